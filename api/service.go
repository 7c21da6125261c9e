package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// HTTPService runs an http.Server as an app-managed service.
type HTTPService struct {
	name   string
	server *http.Server
}

func NewHTTPService(name, addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *HTTPService {
	return &HTTPService{
		name: name,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}
}

func (s *HTTPService) Name() string {
	return s.name
}

func (s *HTTPService) Start() error {
	go func() {
		log.Printf("[INFO] %s service listening on %s", s.name, s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] %s service failed: %v", s.name, err)
		}
	}()
	return nil
}

func (s *HTTPService) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *HTTPService) Status() map[string]interface{} {
	return map[string]interface{}{"addr": s.server.Addr}
}
