package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"CoopLedger/api/constants"
	"CoopLedger/internal/models"
)

// clientBuffer is how many events may wait for a slow reader before new ones
// are dropped.
const clientBuffer = 32

var (
	errClientClosed = errors.New("client closed")
	errClientBehind = errors.New("client buffer full")
)

// sseClient is written only by its HandleSSE goroutine; everyone else hands
// it events through the buffered channel.
type sseClient struct {
	userID string
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSSEClient(userID string) *sseClient {
	return &sseClient{userID: userID, events: make(chan []byte, clientBuffer), done: make(chan struct{})}
}

// enqueue never blocks: a full buffer drops the event.
func (c *sseClient) enqueue(data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.events <- payload:
		return nil
	default:
		return errClientBehind
	}
}

func (c *sseClient) close() {
	c.once.Do(func() { close(c.done) })
}

func writeEvent(w http.ResponseWriter, f http.Flusher, payload []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	f.Flush()
	return nil
}

// ProgressHub streams batch progress to the user who started the batch. One
// connection per user; a new connection replaces the old one.
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
	ping    time.Duration
	stopCh  chan struct{}
	once    sync.Once
}

func NewProgressHub(ping time.Duration) *ProgressHub {
	if ping <= 0 {
		ping = 30 * time.Second
	}
	h := &ProgressHub{
		clients: make(map[string]*sseClient),
		ping:    ping,
		stopCh:  make(chan struct{}),
	}
	go h.pingLoop()
	return h
}

// HandleSSE serves GET ?user_id=... and blocks until the client goes away.
func (h *ProgressHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	userID := r.URL.Query().Get(constants.KeyUserID)
	if userID == "" {
		http.Error(w, constants.ErrUserIDRequired, http.StatusBadRequest)
		return
	}

	w.Header().Set(constants.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(constants.HeaderAccessControlAllowOrigin, "*")

	c := newSSEClient(userID)
	h.mu.Lock()
	if prev, exists := h.clients[userID]; exists {
		prev.close()
	}
	h.clients[userID] = c
	h.mu.Unlock()
	log.Printf("[INFO] progress stream opened for %s from %s", userID, r.RemoteAddr)

	defer func() {
		h.remove(userID, c)
		log.Printf("[INFO] progress stream closed for %s", userID)
	}()

	hello, _ := json.Marshal(map[string]interface{}{"type": "connected", "time": time.Now().Format(time.RFC3339)})
	if err := writeEvent(w, flusher, hello); err != nil {
		return
	}

	for {
		select {
		case payload := <-c.events:
			if err := writeEvent(w, flusher, payload); err != nil {
				log.Printf("[WARN] progress stream to %s failed: %v", userID, err)
				return
			}
		case <-c.done:
			return
		case <-r.Context().Done():
			return
		case <-h.stopCh:
			return
		}
	}
}

func (h *ProgressHub) remove(userID string, c *sseClient) {
	h.mu.Lock()
	if h.clients[userID] == c {
		delete(h.clients, userID)
	}
	h.mu.Unlock()
	c.close()
}

// Progress queues a progress event for actor when connected. It never waits
// on the client: when its buffer is full the event is dropped.
func (h *ProgressHub) Progress(actor, runID string, percent int) {
	h.sendTo(actor, map[string]interface{}{
		"type":    "progress",
		"run_id":  runID,
		"percent": percent,
	})
}

// Finished tells actor the run has been decided.
func (h *ProgressHub) Finished(actor, runID, status string) {
	h.sendTo(actor, map[string]interface{}{
		"type":   "finished",
		"run_id": runID,
		"status": status,
	})
}

// Publish forwards a decided batch to its actor as a finished event.
func (h *ProgressHub) Publish(_ context.Context, ev models.BatchEvent) error {
	h.Finished(ev.Actor, ev.RunID, string(ev.Status))
	return nil
}

func (h *ProgressHub) sendTo(userID string, data interface{}) {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	switch err := c.enqueue(data); {
	case errors.Is(err, errClientClosed):
		h.remove(userID, c)
	case err != nil:
		log.Printf("[WARN] progress event to %s dropped: %v", userID, err)
	}
}

// pingLoop keeps idle streams open and disconnects clients whose buffer has
// stayed full, since their reader is gone or stuck.
func (h *ProgressHub) pingLoop() {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.RLock()
			clients := make([]*sseClient, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				if err := c.enqueue(map[string]interface{}{"type": "ping"}); err != nil {
					log.Printf("[WARN] disconnecting progress stream for %s: %v", c.userID, err)
					h.remove(c.userID, c)
				}
			}
		}
	}
}

// Clients lists the connected user ids.
func (h *ProgressHub) Clients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

func (h *ProgressHub) Stop() {
	h.once.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		for id, c := range h.clients {
			c.close()
			delete(h.clients, id)
		}
		h.mu.Unlock()
	})
}
