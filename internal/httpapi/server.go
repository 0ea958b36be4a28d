package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/rutomatrix/lab-console/internal/booking"
	"github.com/rutomatrix/lab-console/internal/model"
	"github.com/rutomatrix/lab-console/internal/popup"
	"github.com/rutomatrix/lab-console/internal/session"
	"github.com/rutomatrix/lab-console/internal/window"
)

// EventLister reads the session event journal. May be nil when the
// service runs without persistence.
type EventLister interface {
	ListEvents(ctx context.Context, consoleID string, limit int) ([]model.SessionEvent, error)
}

type API struct {
	bookings       *booking.Manager
	poller         *booking.Poller
	sessions       *session.Manager
	hub            *session.Hub
	windows        *window.Registry
	renderer       *popup.Renderer
	events         EventLister
	logger         *slog.Logger
	allowedOrigins []string
	staticDir      string
}

func New(
	bookings *booking.Manager,
	poller *booking.Poller,
	sessions *session.Manager,
	hub *session.Hub,
	windows *window.Registry,
	renderer *popup.Renderer,
	events EventLister,
	allowedOrigins []string,
	staticDir string,
	logger *slog.Logger,
) *API {
	return &API{
		bookings:       bookings,
		poller:         poller,
		sessions:       sessions,
		hub:            hub,
		windows:        windows,
		renderer:       renderer,
		events:         events,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		staticDir:      staticDir,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Websocket routes stay outside the timeout middleware; their
	// connections outlive any sane request deadline.
	r.Get("/ws/console/{id}", a.consoleSocket)
	r.Get("/ws/window/{windowID}", a.windowSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(20 * time.Second))

		r.Get("/healthz", a.health)
		r.Route("/api", func(api chi.Router) {
			api.Get("/bookings", a.listBookings)
			api.Post("/consoles", a.attachConsole)
			api.Get("/consoles/{id}", a.getConsole)
			api.Delete("/consoles/{id}", a.detachConsole)
			api.Post("/consoles/{id}/windows", a.launchWindow)
			api.Get("/consoles/{id}/windows", a.listWindows)
			api.Get("/consoles/{id}/events", a.listEvents)
			api.Post("/refresh", a.refresh)
		})
		r.Get("/popup/{windowID}", a.popupDocument)

		r.Get("/*", a.static)
		r.Get("/", a.static)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func RunServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return err
		}
		return nil
	}
}
