package types

import (
	"context"
	"encoding/json"
)

// Transport opens protocol sessions. The wire format belongs to the
// implementation.
type Transport interface {
	Connect(ctx context.Context, credentials []byte) (Conn, error)
}

// Conn is one live protocol session. Signals closes when the connection
// ends; a close without a preceding Closed signal is a transient drop.
type Conn interface {
	Signals() <-chan Signal
	FetchMedia(ctx context.Context, ref json.RawMessage, kind Kind) ([]byte, error)
	Close() error
}

// MediaFetcher downloads a media payload into memory.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, ref json.RawMessage, kind Kind) ([]byte, error)
}

// AuthStore persists the opaque credential blob.
type AuthStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// ArtifactLedger records newly persisted artifacts.
type ArtifactLedger interface {
	Append(ctx context.Context, record *ArtifactRecord) error
	Tail(ctx context.Context, limit int) ([]*ArtifactRecord, error)
	Count(ctx context.Context) (int64, error)
}
