package storage

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/pkg/types"
)

// SessionRecord is the materialized form of one market session. It is
// enough to resume the session without replaying intents.
type SessionRecord struct {
	Market types.Market `json:"market"`
	State  ledger.State `json:"state"`
	// Halted holds the invariant violation that stopped the session, if any.
	Halted string `json:"halted,omitempty"`
}

// AuditEntry is one committed intent.
type AuditEntry struct {
	MarketID    string          `json:"market_id"`
	Version     uint64          `json:"version"`
	Kind        string          `json:"kind"`
	Digest      common.Hash     `json:"digest"`
	StateDigest common.Hash     `json:"state_digest"`
	Proposer    common.Address  `json:"proposer"`
	Intent      json.RawMessage `json:"intent"`
	Signers     int             `json:"signers"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Storage persists sessions and the intent audit trail.
type Storage interface {
	// SaveSession upserts a session record.
	SaveSession(ctx context.Context, rec *SessionRecord) error

	// Commit upserts rec and appends entry in one unit.
	Commit(ctx context.Context, rec *SessionRecord, entry *AuditEntry) error

	// LoadSessions returns every session that is not Closed.
	LoadSessions(ctx context.Context) ([]*SessionRecord, error)

	// Close closes the storage connection.
	Close() error
}
