package model

// PanelKind selects which control panel a driver slot opens in its popup
// window.
type PanelKind string

const (
	PanelThermal PanelKind = "thermal"
	PanelPulse   PanelKind = "pulse"
	PanelDesk    PanelKind = "desk"
	PanelGeneric PanelKind = "generic"
)

// DriverSlot describes one independently bookable sub-resource of a lab
// device.
type DriverSlot struct {
	Tag         string
	DisplayName string
	Kind        PanelKind
}

var driverSlots = map[string]DriverSlot{
	"ct1_ip":        {Tag: "ct1_ip", DisplayName: "CT1", Kind: PanelThermal},
	"ct2_ip":        {Tag: "ct2_ip", DisplayName: "CT2", Kind: PanelThermal},
	"ct3_ip":        {Tag: "ct3_ip", DisplayName: "CT3", Kind: PanelThermal},
	"pulse1_ip":     {Tag: "pulse1_ip", DisplayName: "Pulse1", Kind: PanelPulse},
	"pulse2_ip":     {Tag: "pulse2_ip", DisplayName: "Pulse2", Kind: PanelPulse},
	"pulse3_ip":     {Tag: "pulse3_ip", DisplayName: "Pulse3", Kind: PanelPulse},
	"pc_ip":         {Tag: "pc_ip", DisplayName: "Virtual Desk", Kind: PanelDesk},
	"rutomatrix_ip": {Tag: "rutomatrix_ip", DisplayName: "Rutomatrix", Kind: PanelDesk},
}

// SlotByTag resolves a slot tag to its descriptor. Unknown tags get a
// generic panel so an unrecognized booking still launches something usable.
func SlotByTag(tag string) DriverSlot {
	if slot, ok := driverSlots[tag]; ok {
		return slot
	}
	return DriverSlot{Tag: tag, DisplayName: tag, Kind: PanelGeneric}
}
