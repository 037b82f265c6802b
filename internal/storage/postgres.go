package storage

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// Schema creates the session and audit tables.
const Schema = `
CREATE TABLE IF NOT EXISTS market_sessions (
	market_id  TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	status     TEXT NOT NULL,
	market     JSONB NOT NULL,
	state      JSONB NOT NULL,
	halted     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_intents (
	market_id    TEXT NOT NULL REFERENCES market_sessions (market_id),
	version      BIGINT NOT NULL,
	kind         TEXT NOT NULL,
	digest       TEXT NOT NULL,
	state_digest TEXT NOT NULL,
	proposer     TEXT NOT NULL,
	intent       JSONB NOT NULL,
	signers      INTEGER NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (market_id, version)
);
`

const upsertSessionQuery = `
	INSERT INTO market_sessions (
		market_id, version, status, market, state, halted, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	)
	ON CONFLICT (market_id) DO UPDATE SET
		version = EXCLUDED.version,
		status = EXCLUDED.status,
		market = EXCLUDED.market,
		state = EXCLUDED.state,
		halted = EXCLUDED.halted,
		updated_at = EXCLUDED.updated_at
`

const insertIntentQuery = `
	INSERT INTO session_intents (
		market_id, version, kind, digest, state_digest, proposer, intent, signers, committed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)
`

const loadSessionsQuery = `
	SELECT market, state, halted
	FROM market_sessions
	WHERE status <> $1
	ORDER BY market_id
`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(ctx context.Context, cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// EnsureSchema creates missing tables.
func (p *PostgresStorage) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveSession upserts a session record.
func (p *PostgresStorage) SaveSession(ctx context.Context, rec *SessionRecord) error {
	err := upsertSession(ctx, p.db, rec)
	if err != nil {
		return err
	}

	p.logger.Debug("session-saved",
		zap.String("market-id", rec.Market.ID),
		zap.Uint64("version", rec.State.Version),
		zap.String("status", rec.State.Status.String()))

	return nil
}

// Commit upserts rec and appends entry in one transaction.
func (p *PostgresStorage) Commit(ctx context.Context, rec *SessionRecord, entry *AuditEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	err = upsertSession(ctx, tx, rec)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, insertIntentQuery,
		entry.MarketID,
		int64(entry.Version),
		entry.Kind,
		entry.Digest.Hex(),
		entry.StateDigest.Hex(),
		entry.Proposer.Hex(),
		[]byte(entry.Intent),
		entry.Signers,
		entry.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	p.logger.Debug("session-committed",
		zap.String("market-id", rec.Market.ID),
		zap.Uint64("version", rec.State.Version),
		zap.String("kind", entry.Kind))

	return nil
}

// LoadSessions returns every non-closed session.
func (p *PostgresStorage) LoadSessions(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := p.db.QueryContext(ctx, loadSessionsQuery, types.StatusClosed.String())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var (
			marketJSON, stateJSON []byte
			rec                   SessionRecord
		)
		err = rows.Scan(&marketJSON, &stateJSON, &rec.Halted)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		err = json.Unmarshal(marketJSON, &rec.Market)
		if err != nil {
			return nil, fmt.Errorf("decode market: %w", err)
		}
		err = json.Unmarshal(stateJSON, &rec.State)
		if err != nil {
			return nil, fmt.Errorf("decode state for %s: %w", rec.Market.ID, err)
		}
		out = append(out, &rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	p.logger.Info("sessions-loaded", zap.Int("count", len(out)))
	return out, nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}

func upsertSession(ctx context.Context, db execer, rec *SessionRecord) error {
	marketJSON, err := json.Marshal(&rec.Market)
	if err != nil {
		return fmt.Errorf("encode market: %w", err)
	}
	stateJSON, err := rec.State.Encode()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, upsertSessionQuery,
		rec.Market.ID,
		int64(rec.State.Version),
		rec.State.Status.String(),
		marketJSON,
		stateJSON,
		rec.Halted,
		rec.State.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.Market.ID, err)
	}
	return nil
}
