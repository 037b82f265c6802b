package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// MemoryStorage implements Storage in process memory. Records are copied on
// the way in and out.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	audit    []AuditEntry
	logger   *zap.Logger
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	logger.Info("memory-storage-initialized")
	return &MemoryStorage{
		sessions: make(map[string]*SessionRecord),
		logger:   logger,
	}
}

func copyRecord(rec *SessionRecord) *SessionRecord {
	out := *rec
	out.State = rec.State.Clone()
	return &out
}

// SaveSession upserts a session record.
func (m *MemoryStorage) SaveSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.Market.ID] = copyRecord(rec)
	return nil
}

// Commit upserts rec and appends entry.
func (m *MemoryStorage) Commit(ctx context.Context, rec *SessionRecord, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[rec.Market.ID] = copyRecord(rec)
	e := *entry
	e.Intent = append([]byte(nil), entry.Intent...)
	m.audit = append(m.audit, e)

	m.logger.Debug("session-committed",
		zap.String("market-id", rec.Market.ID),
		zap.Uint64("version", rec.State.Version),
		zap.String("kind", entry.Kind))

	return nil
}

// LoadSessions returns every non-closed session ordered by market id.
func (m *MemoryStorage) LoadSessions(ctx context.Context) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if rec.State.Status == types.StatusClosed {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market.ID < out[j].Market.ID })
	return out, nil
}

// AuditLog returns the committed intents for one market in version order.
func (m *MemoryStorage) AuditLog(marketID string) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AuditEntry
	for _, e := range m.audit {
		if e.MarketID == marketID {
			out = append(out, e)
		}
	}
	return out
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	m.logger.Info("closing-memory-storage")
	return nil
}
