package models

// ServerRef is an immutable snapshot of a catalog server.
type ServerRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Latency int    `json:"latency"` // ms
	Load    int    `json:"load"`    // percent
	Premium bool   `json:"premium"`
}
