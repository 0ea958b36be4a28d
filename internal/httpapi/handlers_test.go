package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rutomatrix/lab-console/internal/booking"
	"github.com/rutomatrix/lab-console/internal/model"
	"github.com/rutomatrix/lab-console/internal/popup"
	"github.com/rutomatrix/lab-console/internal/session"
	"github.com/rutomatrix/lab-console/internal/window"
)

type memoryStore struct {
	bookings  []model.Booking
	fetchedAt time.Time
}

func (s *memoryStore) SaveBookings(_ context.Context, bookings []model.Booking, fetchedAt time.Time) error {
	s.bookings = bookings
	s.fetchedAt = fetchedAt
	return nil
}

func (s *memoryStore) LoadBookings(context.Context) ([]model.Booking, time.Time, error) {
	return s.bookings, s.fetchedAt, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	api      *API
	server   *httptest.Server
	sessions *session.Manager
	hub      *session.Hub
	windows  *window.Registry
}

func newTestEnv(t *testing.T, bookings ...model.Booking) *testEnv {
	t.Helper()
	logger := discardLogger()

	store := &memoryStore{bookings: bookings, fetchedAt: time.Now()}
	bookingManager := booking.NewManager(nil, store, logger)
	bookingManager.Restore(context.Background())
	poller := booking.NewPoller(bookingManager, time.Minute, nil, logger)

	hub := session.NewHub(logger)
	registry := window.NewRegistry(nil, 10*time.Second, logger)
	sessions := session.NewManager(bookingManager, hub, registry, nil, session.Options{
		ReservationsURL: "http://booking.example/reservations",
		AlertSoundURL:   "http://booking.example/alarm.mp3",
		AlertAckTimeout: time.Second,
	}, logger)
	t.Cleanup(sessions.Shutdown)

	renderer, err := popup.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	api := New(bookingManager, poller, sessions, hub, registry, renderer, nil, []string{"*"}, "", logger)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testEnv{api: api, server: server, sessions: sessions, hub: hub, windows: registry}
}

func labBooking(end time.Time) model.Booking {
	return model.Booking{
		DeviceID:      "dev-1",
		ReservationID: "res-1",
		DeviceName:    "Lab Bench 3",
		UserName:      "operator",
		IPType:        "ct1_ip,pulse1_ip",
		Status:        model.BookingActive,
		EndTime:       end,
		DeviceDetails: map[string]string{"ct1_ip": "10.0.0.5", "pulse1_ip": "10.0.0.6"},
	}
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListBookings(t *testing.T) {
	env := newTestEnv(t, labBooking(time.Now().Add(time.Hour)))
	resp, err := http.Get(env.server.URL + "/api/bookings")
	if err != nil {
		t.Fatalf("GET /api/bookings: %v", err)
	}
	var payload struct {
		Items []model.Booking `json:"items"`
	}
	decodeBody(t, resp, &payload)
	if len(payload.Items) != 1 || payload.Items[0].DeviceID != "dev-1" {
		t.Fatalf("items = %+v", payload.Items)
	}
}

func TestConsoleLifecycle(t *testing.T) {
	env := newTestEnv(t, labBooking(time.Now().Add(time.Hour)))

	resp := postJSON(t, env.server.URL+"/api/consoles", map[string]string{"device_id": "dev-1", "ip_type": "ct1_ip"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("attach status = %d", resp.StatusCode)
	}
	var view session.View
	decodeBody(t, resp, &view)
	if !view.HasBooking || view.DeviceName != "Lab Bench 3" {
		t.Fatalf("view = %+v", view)
	}

	resp, err := http.Get(env.server.URL + "/api/consoles/" + view.ID)
	if err != nil {
		t.Fatalf("GET console: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/consoles/"+view.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE console: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/api/consoles/" + view.ID)
	if err != nil {
		t.Fatalf("GET console: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAttachRejectsMissingDeviceID(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.server.URL+"/api/consoles", map[string]string{"ip_type": "ct1_ip"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLaunchWindow(t *testing.T) {
	env := newTestEnv(t, labBooking(time.Now().Add(time.Hour)))

	resp := postJSON(t, env.server.URL+"/api/consoles", map[string]string{"device_id": "dev-1", "ip_type": "ct1_ip"})
	var view session.View
	decodeBody(t, resp, &view)

	resp = postJSON(t, env.server.URL+"/api/consoles/"+view.ID+"/windows", map[string]string{"device_key": "ct1_ip"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("launch status = %d", resp.StatusCode)
	}
	var launched struct {
		Window   window.Snapshot `json:"window"`
		PopupURL string          `json:"popup_url"`
	}
	decodeBody(t, resp, &launched)
	if launched.Window.DeviceKey != "ct1_ip" {
		t.Fatalf("window = %+v", launched.Window)
	}
	if launched.PopupURL != "/popup/"+launched.Window.ID {
		t.Errorf("popup_url = %q", launched.PopupURL)
	}

	resp, err := http.Get(env.server.URL + "/api/consoles/" + view.ID + "/windows")
	if err != nil {
		t.Fatalf("list windows: %v", err)
	}
	var listed struct {
		Items []window.Snapshot `json:"items"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Items) != 1 {
		t.Fatalf("items = %+v", listed.Items)
	}
}

func TestLaunchWindowRejectsUnbookedSlot(t *testing.T) {
	env := newTestEnv(t, labBooking(time.Now().Add(time.Hour)))

	resp := postJSON(t, env.server.URL+"/api/consoles", map[string]string{"device_id": "dev-1", "ip_type": "ct1_ip"})
	var view session.View
	decodeBody(t, resp, &view)

	resp = postJSON(t, env.server.URL+"/api/consoles/"+view.ID+"/windows", map[string]string{"device_key": "pc_ip"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestLaunchWindowUnknownConsole(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.server.URL+"/api/consoles/nope/windows", map[string]string{"device_key": "ct1_ip"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPopupDocument(t *testing.T) {
	env := newTestEnv(t, labBooking(time.Now().Add(time.Hour)))

	resp := postJSON(t, env.server.URL+"/api/consoles", map[string]string{"device_id": "dev-1", "ip_type": "ct1_ip"})
	var view session.View
	decodeBody(t, resp, &view)

	resp = postJSON(t, env.server.URL+"/api/consoles/"+view.ID+"/windows", map[string]string{"device_key": "ct1_ip"})
	var launched struct {
		Window window.Snapshot `json:"window"`
	}
	decodeBody(t, resp, &launched)

	resp, err := http.Get(env.server.URL + "/popup/" + launched.Window.ID)
	if err != nil {
		t.Fatalf("GET popup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("popup status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	doc := string(body)
	for _, want := range []string{
		"/ws/window/" + launched.Window.ID,
		"http://10.0.0.5:8000/camera.mjpg",
		"Lab Bench 3",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("popup document missing %q", want)
		}
	}
}

func TestPopupDocumentUnknownWindow(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/popup/nope")
	if err != nil {
		t.Fatalf("GET popup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.server.URL+"/api/refresh", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}
