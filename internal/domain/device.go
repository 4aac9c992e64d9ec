// Package domain contains entities without logic, just meta-data
package domain

import "fmt"

type DeviceKind string

const (
	KindAudioInput  DeviceKind = "audioinput"
	KindAudioOutput DeviceKind = "audiooutput"
)

type DeviceID string

// Device describes an audio endpoint as reported by the platform.
type Device struct {
	ID        DeviceID   `json:"device_id"`
	Label     string     `json:"label"`
	Kind      DeviceKind `json:"kind"`
	IsDefault bool       `json:"is_default"`
}

// DisplayName is the label to show in a device picker.
func (d Device) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return fmt.Sprintf("Microphone %s", d.ID)
}

// FilterKind keeps only devices of kind k, preserving order.
func FilterKind(devices []Device, k DeviceKind) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}
