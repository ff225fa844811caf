package types

import (
	"strings"

	"github.com/google/uuid"
)

type PassID string
type RecordID string
type RequestID string
type JobID string

func NewPassID() PassID {
	return PassID(uuid.New().String())
}

func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// IDTail returns the user part of a participant identifier
// ("4915112345678@s.whatsapp.net" -> "4915112345678"). Device suffixes
// ("123:7@s.whatsapp.net") are dropped as well.
func IDTail(participantID string) string {
	tail := strings.TrimSpace(participantID)
	if i := strings.IndexByte(tail, '@'); i >= 0 {
		tail = tail[:i]
	}
	if i := strings.IndexByte(tail, ':'); i >= 0 {
		tail = tail[:i]
	}
	return tail
}
