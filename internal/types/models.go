package types

import (
	"encoding/json"
	"time"
)

// BroadcastScope is the scope id of the status broadcast feed.
const BroadcastScope = "status@broadcast"

// Kind is the payload kind of an inbound event.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

// Source tells which delivery channel an event arrived on.
type Source string

const (
	SourceLive    Source = "live"
	SourceHistory Source = "history"
)

// InboundEvent is one event delivered by the transport. It only lives for
// the duration of its processing.
type InboundEvent struct {
	ID            string          `json:"id"`
	ScopeID       string          `json:"scope"`
	ParticipantID string          `json:"participant"`
	NotifyName    string          `json:"notify_name,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Kind          Kind            `json:"kind"`
	Text          string          `json:"text,omitempty"`
	Caption       string          `json:"caption,omitempty"`
	Media         json.RawMessage `json:"media,omitempty"`
}

// Contact is one directory upsert entry. Name and Notify are optional.
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Notify string `json:"notify,omitempty"`
}

// ConnState is the session connection status.
type ConnState string

const (
	StateConnecting         ConnState = "connecting"
	StateOpen               ConnState = "open"
	StateClosedReconnecting ConnState = "closed-reconnecting"
	StateClosedTerminal     ConnState = "closed-terminal"
)

// Transition is one connection state change observed by the session manager.
type Transition struct {
	From   ConnState `json:"from"`
	To     ConnState `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ArtifactRecord is one ledger line describing a newly persisted artifact.
type ArtifactRecord struct {
	ID      RecordID  `json:"id"`
	EventID string    `json:"event_id"`
	Name    string    `json:"name"`
	Kind    Kind      `json:"kind"`
	Source  Source    `json:"source"`
	Sender  string    `json:"sender"`
	Size    int64     `json:"size"`
	Digest  string    `json:"digest"`
	At      time.Time `json:"at"`
}
