package api

import (
	"net/http"

	"CoopLedger/api/constants"

	"github.com/gorilla/mux"
)

// Route is one endpoint. Authenticated routes go through RequireUserID.
type Route struct {
	Method        string
	Path          string
	Handler       http.HandlerFunc
	Authenticated bool
}

func NewRouter(maxMemory int64, routes ...Route) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger, CORS)

	withUser := RequireUserID(maxMemory)
	for _, rt := range routes {
		var h http.Handler = rt.Handler
		if rt.Authenticated {
			h = withUser(h)
		}
		router.Handle(rt.Path, h).Methods(rt.Method, http.MethodOptions)
	}
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusMethodNotAllowed, constants.ErrMethodNotAllowed)
	})
	return router
}
