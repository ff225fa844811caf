package bridge

import (
	"encoding/json"

	"github.com/user/statuskeeper/internal/types"
)

// Frame types exchanged with the bridge process.
const (
	frameHello      = "hello"
	frameDownload   = "download"
	frameConnection = "connection"
	frameQR         = "qr"
	frameCreds      = "creds"
	frameMessage    = "message"
	frameHistory    = "history"
	frameContacts   = "contacts"
	frameMedia      = "media"
	frameError      = "error"
)

// reasonLoggedOut is the closure reason the bridge reports when the account
// was unlinked.
const reasonLoggedOut = "loggedOut"

// frame is the JSON envelope of every message in both directions. []byte
// fields travel as base64.
type frame struct {
	Type        string                `json:"type"`
	RequestID   string                `json:"request_id,omitempty"`
	State       string                `json:"state,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	LoggedOut   bool                  `json:"logged_out,omitempty"`
	Code        string                `json:"code,omitempty"`
	Credentials []byte                `json:"credentials,omitempty"`
	Event       *types.InboundEvent   `json:"event,omitempty"`
	Events      []*types.InboundEvent `json:"events,omitempty"`
	Contacts    []types.Contact       `json:"contacts,omitempty"`
	Media       json.RawMessage       `json:"media,omitempty"`
	Kind        types.Kind            `json:"kind,omitempty"`
	Data        []byte                `json:"data,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// toSignal maps an inbound frame to a session signal. ok is false for
// frames that carry no signal.
func (f *frame) toSignal() (types.Signal, bool) {
	switch f.Type {
	case frameConnection:
		switch f.State {
		case "open":
			return types.Opened{}, true
		case "close":
			return types.Closed{
				Reason:    f.Reason,
				LoggedOut: f.LoggedOut || f.Reason == reasonLoggedOut,
			}, true
		}
	case frameQR:
		return types.QRChallenge{Code: f.Code}, true
	case frameCreds:
		return types.CredentialsChanged{Blob: f.Credentials}, true
	case frameMessage:
		if f.Event != nil {
			return types.LiveMessage{Event: f.Event}, true
		}
	case frameHistory:
		return types.HistoryReplay{Events: f.Events}, true
	case frameContacts:
		return types.ContactsUpsert{Contacts: f.Contacts}, true
	}
	return nil, false
}
