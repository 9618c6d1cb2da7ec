package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shielded-relay/relayer/internal/config"
)

// DefaultQueryTimeout bounds every Postgres round trip so a stalled
// connection never blocks a payment request indefinitely.
const DefaultQueryTimeout = 5 * time.Second

// PostgresStore is the production Store backend.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a new connection pool and applies pool settings
// from configuration.
func NewPostgresStore(connectionString string, pool config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, pool)

	s := &PostgresStore{db: db, ownsDB: true}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool, for callers that
// share one *sql.DB across several stores.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, ownsDB: false}
	if err := s.createTables(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			settlement_id     TEXT PRIMARY KEY,
			idempotency_key   TEXT UNIQUE,
			status            TEXT NOT NULL,
			nullifier         TEXT NOT NULL,
			root              TEXT NOT NULL,
			settlement_tx_hash TEXT,
			merchant_result   JSONB,
			failure_reason    TEXT,
			created_at        TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create settlements table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS channel_heads (
			channel_id        TEXT PRIMARY KEY,
			seq               BIGINT NOT NULL,
			available         TEXT NOT NULL,
			cumulative_spent  TEXT NOT NULL,
			last_debit_digest TEXT NOT NULL,
			updated_at        BIGINT NOT NULL,
			agent_address     TEXT NOT NULL,
			relayer_address   TEXT NOT NULL,
			agent_signature   TEXT NOT NULL,
			relayer_signature TEXT NOT NULL,
			state_hash        TEXT NOT NULL,
			closing           BOOLEAN NOT NULL DEFAULT FALSE,
			stored_at         TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create channel_heads table: %w", err)
	}
	return nil
}

func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

func (s *PostgresStore) PutSettlement(ctx context.Context, rec SettlementRecord) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var merchantResultJSON []byte
	if rec.MerchantResult != nil {
		var err error
		merchantResultJSON, err = json.Marshal(rec.MerchantResult)
		if err != nil {
			return fmt.Errorf("store: marshal merchant result: %w", err)
		}
	}

	var idempotencyKey interface{}
	if rec.IdempotencyKey != "" {
		idempotencyKey = rec.IdempotencyKey
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (settlement_id, idempotency_key, status, nullifier, root, settlement_tx_hash, merchant_result, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (settlement_id) DO UPDATE SET
			status             = EXCLUDED.status,
			settlement_tx_hash = EXCLUDED.settlement_tx_hash,
			merchant_result    = EXCLUDED.merchant_result,
			failure_reason     = EXCLUDED.failure_reason
	`, rec.SettlementID, idempotencyKey, string(rec.Status), rec.Nullifier, rec.Root,
		rec.SettlementTxHash, merchantResultJSON, rec.FailureReason, rec.CreatedAt)
	return err
}

func (s *PostgresStore) scanSettlement(row *sql.Row) (SettlementRecord, error) {
	var rec SettlementRecord
	var idempotencyKey, settlementTxHash, failureReason sql.NullString
	var merchantResultJSON []byte
	var status string

	err := row.Scan(&rec.SettlementID, &idempotencyKey, &status, &rec.Nullifier, &rec.Root,
		&settlementTxHash, &merchantResultJSON, &failureReason, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return SettlementRecord{}, ErrNotFound
	}
	if err != nil {
		return SettlementRecord{}, err
	}

	rec.IdempotencyKey = idempotencyKey.String
	rec.Status = SettlementStatus(status)
	rec.SettlementTxHash = settlementTxHash.String
	rec.FailureReason = failureReason.String
	if len(merchantResultJSON) > 0 {
		var mr MerchantResult
		if err := json.Unmarshal(merchantResultJSON, &mr); err != nil {
			return SettlementRecord{}, fmt.Errorf("store: unmarshal merchant result: %w", err)
		}
		rec.MerchantResult = &mr
	}
	return rec, nil
}

func (s *PostgresStore) GetBySettlementID(ctx context.Context, settlementID string) (SettlementRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT settlement_id, idempotency_key, status, nullifier, root, settlement_tx_hash, merchant_result, failure_reason, created_at
		FROM settlements WHERE settlement_id = $1
	`, settlementID)
	return s.scanSettlement(row)
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (SettlementRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT settlement_id, idempotency_key, status, nullifier, root, settlement_tx_hash, merchant_result, failure_reason, created_at
		FROM settlements WHERE idempotency_key = $1
	`, idempotencyKey)
	return s.scanSettlement(row)
}

func (s *PostgresStore) GetHead(ctx context.Context, channelID string) (ChannelHead, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var h ChannelHead
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, seq, available, cumulative_spent, last_debit_digest, updated_at,
		       agent_address, relayer_address, agent_signature, relayer_signature, state_hash, closing, stored_at
		FROM channel_heads WHERE channel_id = $1
	`, channelID).Scan(&h.ChannelID, &h.Seq, &h.Available, &h.CumulativeSpent, &h.LastDebitDigest, &h.UpdatedAt,
		&h.AgentAddress, &h.RelayerAddress, &h.AgentSignature, &h.RelayerSignature, &h.StateHash, &h.Closing, &h.StoredAt)
	if err == sql.ErrNoRows {
		return ChannelHead{}, ErrNotFound
	}
	if err != nil {
		return ChannelHead{}, err
	}
	return h, nil
}

func (s *PostgresStore) PutHead(ctx context.Context, head ChannelHead) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if head.StoredAt.IsZero() {
		head.StoredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_heads (channel_id, seq, available, cumulative_spent, last_debit_digest, updated_at,
			agent_address, relayer_address, agent_signature, relayer_signature, state_hash, closing, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (channel_id) DO UPDATE SET
			seq               = EXCLUDED.seq,
			available         = EXCLUDED.available,
			cumulative_spent  = EXCLUDED.cumulative_spent,
			last_debit_digest = EXCLUDED.last_debit_digest,
			updated_at        = EXCLUDED.updated_at,
			agent_signature   = EXCLUDED.agent_signature,
			relayer_signature = EXCLUDED.relayer_signature,
			state_hash        = EXCLUDED.state_hash,
			closing           = EXCLUDED.closing,
			stored_at         = EXCLUDED.stored_at
	`, head.ChannelID, head.Seq, head.Available, head.CumulativeSpent, head.LastDebitDigest, head.UpdatedAt,
		head.AgentAddress, head.RelayerAddress, head.AgentSignature, head.RelayerSignature, head.StateHash, head.Closing, head.StoredAt)
	return err
}

func (s *PostgresStore) DeleteHead(ctx context.Context, channelID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_heads WHERE channel_id = $1`, channelID)
	return err
}

// Close closes the underlying connection pool, unless it was shared via
// NewPostgresStoreWithDB.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
