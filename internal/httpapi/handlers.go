package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rutomatrix/lab-console/internal/booking"
	"github.com/rutomatrix/lab-console/internal/model"
	"github.com/rutomatrix/lab-console/internal/popup"
	"github.com/rutomatrix/lab-console/internal/session"
)

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	_, fetchedAt := a.bookings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"bookings_fetched_at": fetchedAt,
	})
}

func (a *API) listBookings(w http.ResponseWriter, _ *http.Request) {
	bookings, fetchedAt := a.bookings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      bookings,
		"fetched_at": fetchedAt,
	})
}

func (a *API) attachConsole(w http.ResponseWriter, r *http.Request) {
	var payload session.AttachInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}
	view, err := a.sessions.Attach(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "attach_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) getConsole(w http.ResponseWriter, r *http.Request) {
	view, ok := a.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Console not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) detachConsole(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Detach(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, session.ErrConsoleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Console not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "detach_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type launchInput struct {
	DeviceKey string `json:"device_key"`
}

func (a *API) launchWindow(w http.ResponseWriter, r *http.Request) {
	consoleID := chi.URLParam(r, "id")
	var payload launchInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.DeviceKey == "" {
		writeError(w, http.StatusBadRequest, "missing_device_key", "device_key is required")
		return
	}
	if _, ok := a.sessions.Get(consoleID); !ok {
		writeError(w, http.StatusNotFound, "not_found", "Console not found")
		return
	}
	current, ok := a.sessions.Booking(consoleID)
	if !ok {
		writeError(w, http.StatusConflict, "no_active_booking", booking.ErrNoActiveBooking.Error())
		return
	}
	if !current.HasAnySlot([]string{payload.DeviceKey}) {
		writeError(w, http.StatusForbidden, "slot_not_booked", "Requested device slot is not covered by the booking")
		return
	}

	snap := a.windows.Open(r.Context(), consoleID, payload.DeviceKey, current.EndTime)
	writeJSON(w, http.StatusCreated, map[string]any{
		"window":    snap,
		"popup_url": fmt.Sprintf("/popup/%s", snap.ID),
	})
}

func (a *API) listWindows(w http.ResponseWriter, r *http.Request) {
	consoleID := chi.URLParam(r, "id")
	if _, ok := a.sessions.Get(consoleID); !ok {
		writeError(w, http.StatusNotFound, "not_found", "Console not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.windows.List(consoleID)})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, http.StatusNotFound, "journal_disabled", "Event journal not available")
		return
	}
	events, err := a.events.ListEvents(r.Context(), chi.URLParam(r, "id"), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) static(w http.ResponseWriter, r *http.Request) {
	if a.staticDir == "" {
		writeError(w, http.StatusNotFound, "frontend_missing", "Frontend dist not found")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	cleanPath := strings.TrimPrefix(filepath.Clean("/"+path), "/")
	fullPath := filepath.Join(a.staticDir, cleanPath)
	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, fullPath)
		return
	}
	http.ServeFile(w, r, filepath.Join(a.staticDir, "index.html"))
}

func (a *API) popupDocument(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")
	snap, ok := a.windows.Get(windowID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Window not found or already closed")
		return
	}

	slot := model.SlotByTag(snap.DeviceKey)
	data := popup.Data{
		WindowID:    snap.ID,
		DeviceKey:   snap.DeviceKey,
		DisplayName: slot.DisplayName,
		SocketPath:  fmt.Sprintf("/ws/window/%s", snap.ID),
	}
	if current, ok := a.sessions.Booking(snap.ConsoleID); ok {
		data.DeviceName = current.DeviceName
		data.IP = current.SlotIP(snap.DeviceKey)
		data.Endpoints = popup.EndpointsFor(slot.Kind, data.IP)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := a.renderer.Render(w, slot.Kind, data); err != nil {
		a.logger.Error("popup render failed", "window_id", windowID, "err", err)
	}
}
