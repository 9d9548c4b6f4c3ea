package model

// Shipment is an inbound shipment summary.
type Shipment struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Status string  `json:"status"`
	ETA    string  `json:"eta,omitempty"`
	Units  float64 `json:"units"`
}
