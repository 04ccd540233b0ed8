package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/x18ops/signaling/internal/config"
	"github.com/x18ops/signaling/internal/core/port"
)

// Handler terminates the transport channels and drives decoded envelopes
// into the core through port.Events.
type Handler struct {
	Events   port.Events
	Cfg      config.TransportConfig
	sessions *sessionTable
}

func NewHandler(events port.Events, cfg config.TransportConfig) *Handler {
	return &Handler{
		Events:   events,
		Cfg:      cfg,
		sessions: newSessionTable(),
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// The operator UI is served by a separate frontend; this process only
	// relays signaling traffic.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("signaling relay\n"))
	})

	r.Route("/signaling", func(r chi.Router) {
		r.Get("/ws", h.ServeWS)
		r.Post("/connect", h.ServeConnect)
		r.Post("/send", h.ServeSend)
		r.Get("/poll", h.ServePoll)
	})

	return r
}
