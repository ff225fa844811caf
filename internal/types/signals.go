package types

// Signal is one notification emitted by a transport connection.
type Signal interface {
	isSignal()
}

// Opened reports a completed handshake.
type Opened struct{}

// Closed reports the end of the connection. LoggedOut marks a closure that
// requires re-authentication out of band.
type Closed struct {
	Reason    string
	LoggedOut bool
}

// QRChallenge carries a pairing code that must be shown to the operator.
type QRChallenge struct {
	Code string
}

// CredentialsChanged carries the new opaque auth state.
type CredentialsChanged struct {
	Blob []byte
}

// LiveMessage carries one real-time event.
type LiveMessage struct {
	Event *InboundEvent
}

// HistoryReplay carries a bulk replay of previously missed events.
type HistoryReplay struct {
	Events []*InboundEvent
}

// ContactsUpsert carries directory updates.
type ContactsUpsert struct {
	Contacts []Contact
}

func (Opened) isSignal()             {}
func (Closed) isSignal()             {}
func (QRChallenge) isSignal()        {}
func (CredentialsChanged) isSignal() {}
func (LiveMessage) isSignal()        {}
func (HistoryReplay) isSignal()      {}
func (ContactsUpsert) isSignal()     {}
