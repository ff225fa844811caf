// Package state provides the filesystem-backed stores: artifacts and their
// existence index, the ingest ledger and the protocol auth state.
package state

import "github.com/user/statuskeeper/internal/types"

// Compile-time interface compliance checks.
var _ types.AuthStore = (*AuthStore)(nil)
var _ types.ArtifactLedger = (*Ledger)(nil)
var _ Index = (*MemoryIndex)(nil)
var _ Index = (*RedisIndex)(nil)
