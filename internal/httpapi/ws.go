package httpapi

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rutomatrix/lab-console/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens in the CORS layer; the socket endpoints
	// accept whatever origin the API accepted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn serializes writes to a websocket connection. Timer pushes, alerts
// and close directives come from different goroutines and gorilla allows
// only one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// consoleSocket binds the console channel: countdown labels, alerts and
// redirects flow out; alert acknowledgments flow in.
func (a *API) consoleSocket(w http.ResponseWriter, r *http.Request) {
	consoleID := chi.URLParam(r, "id")
	if _, ok := a.sessions.Get(consoleID); !ok {
		writeError(w, http.StatusNotFound, "not_found", "Console not found")
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("console socket upgrade failed", "console_id", consoleID, "err", err)
		return
	}
	conn := &wsConn{conn: raw}
	a.hub.Bind(consoleID, conn)
	a.logger.Info("console channel connected", "console_id", consoleID)

	defer func() {
		a.hub.Unbind(consoleID, conn)
		_ = raw.Close()
	}()
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			a.logger.Debug("console channel closed", "console_id", consoleID, "err", err)
			return
		}
		msg, err := model.DecodeInbound(data)
		if err != nil {
			a.logger.Debug("console message rejected", "console_id", consoleID, "err", err)
			continue
		}
		if _, ok := msg.(model.AlertAck); ok {
			a.sessions.Ack(consoleID)
		}
	}
}

// windowSocket attaches a popup's channel to its registry entry. A read
// error means the popup went away; the registry reaps it on the next sweep.
func (a *API) windowSocket(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("window socket upgrade failed", "window_id", windowID, "err", err)
		return
	}
	conn := &wsConn{conn: raw}
	if err := a.windows.Attach(windowID, conn); err != nil {
		_ = conn.WriteJSON(model.NewCloseWindow("unknown window"))
		_ = raw.Close()
		return
	}
	a.logger.Info("window channel connected", "window_id", windowID)

	defer func() {
		a.windows.MarkClosed(windowID)
		_ = raw.Close()
	}()
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			a.logger.Debug("window channel closed", "window_id", windowID, "err", err)
			return
		}
		msg, err := model.DecodeInbound(data)
		if err != nil {
			a.logger.Debug("window message rejected", "window_id", windowID, "err", err)
			continue
		}
		if title, ok := msg.(model.WindowTitle); ok {
			a.windows.SetTitle(windowID, title.Title)
		}
	}
}
