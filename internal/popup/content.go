// Package popup renders the self-contained control documents served into
// detached device windows. Each document embeds the device control URLs
// for its driver slot and a listener script that keeps the window's
// countdown in sync over its websocket channel.
package popup

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/rutomatrix/lab-console/internal/model"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Device control ports exposed by the lab hosts. The panels treat these
// as opaque URLs; nothing here talks to the devices directly.
const (
	portCamera  = 8000
	portThermal = 8001
	portPulse   = 8002
	portServo   = 8003
)

// Endpoints carries the control URLs a panel embeds. Only the fields
// relevant to the panel kind are populated.
type Endpoints struct {
	CameraFeed   string
	CameraStart  string
	CameraStop   string
	ThermalFeed  string
	ThermalStart string
	ThermalStop  string
	Servo        string
	PulseViewer  string
	DeskViewer   string
}

// EndpointsFor builds the control URLs for a driver slot kind on a given
// device IP.
func EndpointsFor(kind model.PanelKind, ip string) Endpoints {
	switch kind {
	case model.PanelThermal:
		return Endpoints{
			CameraFeed:   fmt.Sprintf("http://%s:%d/camera.mjpg", ip, portCamera),
			CameraStart:  fmt.Sprintf("http://%s:%d/start", ip, portCamera),
			CameraStop:   fmt.Sprintf("http://%s:%d/stop", ip, portCamera),
			ThermalFeed:  fmt.Sprintf("http://%s:%d/thermal", ip, portThermal),
			ThermalStart: fmt.Sprintf("http://%s:%d/start", ip, portThermal),
			ThermalStop:  fmt.Sprintf("http://%s:%d/stop", ip, portThermal),
			Servo:        fmt.Sprintf("http://%s:%d/servo", ip, portServo),
		}
	case model.PanelPulse:
		return Endpoints{
			PulseViewer: fmt.Sprintf("http://%s:%d/", ip, portPulse),
		}
	default:
		return Endpoints{
			DeskViewer: fmt.Sprintf("http://%s:%d/", ip, portCamera),
		}
	}
}

// Data is everything a popup document needs at render time.
type Data struct {
	WindowID    string
	DeviceKey   string
	DisplayName string
	DeviceName  string
	IP          string
	SocketPath  string
	Endpoints   Endpoints
}

// Renderer executes the embedded panel templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates once at startup.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse popup templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render writes the panel document for a slot kind. Unknown kinds get the
// generic panel.
func (r *Renderer) Render(w io.Writer, kind model.PanelKind, data Data) error {
	name := string(kind)
	if r.templates.Lookup(name) == nil {
		name = string(model.PanelGeneric)
	}
	if err := r.templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("render %s panel: %w", name, err)
	}
	return nil
}
