// Package types holds the websocket wire messages exchanged with the
// draft UI.
package types

import "github.com/cubeforge/cube-draft-backend/internal/engine"

// ClientMessage is what the UI sends over the websocket.
//
// MakePick: index into seat 0's open pack plus the destination slot.
// Retry: re-attempt the last failed prediction or finish call.
type ClientMessage struct {
	Type  string `json:"type"` // "MakePick" | "Retry"
	Index int    `json:"index,omitempty"`
	Zone  string `json:"zone,omitempty"` // "deck" | "sideboard"
	Row   int    `json:"row,omitempty"`
	Col   int    `json:"col,omitempty"`
}

// ServerMessage is what the server streams back: versioned snapshots of the
// engine state, or an error for a malformed client message.
type ServerMessage struct {
	Type     string           `json:"type"` // "StateSnapshot" | "Error"
	Version  int              `json:"version,omitempty"`
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}
