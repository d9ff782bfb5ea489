package models

import "time"

// Session is the active VPN session reported by GET /sessions/current.
type Session struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"serverId"`
	Protocol  string    `json:"protocol,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}
