package hue

import "encoding/json"

// DeviceListResponse is the envelope of /clip/v2/resource/device.
type DeviceListResponse struct {
	Data []Device `json:"data"`
}

// Device is a catalog descriptor.
type Device struct {
	ID       string         `json:"id"`
	IDv1     string         `json:"id_v1,omitempty"`
	Type     string         `json:"type"`
	Metadata DeviceMetadata `json:"metadata"`
}

// DeviceMetadata holds user-facing device attributes.
type DeviceMetadata struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype,omitempty"`
}

// DisplayName returns the metadata name, falling back to the v1 id and then the id.
func (d Device) DisplayName() string {
	switch {
	case d.Metadata.Name != "":
		return d.Metadata.Name
	case d.IDv1 != "":
		return d.IDv1
	default:
		return d.ID
	}
}

// DeviceType returns the descriptor type, defaulting to "device".
func (d Device) DeviceType() string {
	if d.Type == "" {
		return "device"
	}
	return d.Type
}

// Envelope is one element of an event stream frame: a typed batch of
// per-resource deltas. Deltas stay raw so payloads are stored verbatim.
type Envelope struct {
	ID           string            `json:"id,omitempty"`
	Type         string            `json:"type"`
	CreationTime string            `json:"creationtime,omitempty"`
	Data         []json.RawMessage `json:"data"`
}
