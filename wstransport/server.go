package wstransport

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/arcfault/callstream"
)

// methodParam is the URL query parameter carrying the engine method name.
const methodParam = "method"

// Handler serves call sessions over WebSocket connections. Each accepted
// connection becomes one Transport handed to the dispatcher and stays open
// until the session reaches a terminal state.
//
// See NewHandler.
type Handler struct {
	dispatcher *callstream.Dispatcher
	upgrader   websocket.Upgrader
	log        logrus.FieldLogger

	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewHandler creates a Handler that dispatches accepted connections
// through d. A nil log falls back to the logrus standard logger.
func NewHandler(d *callstream.Dispatcher, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			// sessions are machine-to-machine; origin checks do not apply
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:      log,
		decoders: make(map[string]Decoder),
	}
}

// RegisterDecoder installs the request payload decoder for one method.
// Connections for methods without a decoder fall back to generic JSON
// forms.
func (h *Handler) RegisterDecoder(methodName string, dec Decoder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decoders[methodName] = dec
}

func (h *Handler) decoderFor(methodName string) Decoder {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.decoders[methodName]
}

// Route mounts the handler on r at path.
func (h *Handler) Route(r *mux.Router, path string) *mux.Route {
	return r.Handle(path, h)
}

// ServeHTTP upgrades the request and runs one session to completion. The
// WebSocket protocol has no trailer status, so a rejected or failed
// session surfaces to the peer as a closed connection; the session's
// observer carries the details.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	methodName := r.URL.Query().Get(methodParam)
	if methodName == "" {
		http.Error(w, "missing method query parameter", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sess := h.dispatcher.Dispatch(r.Context(), methodName, newTransport(conn, h.decoderFor(methodName)))
	<-sess.Done()
}
