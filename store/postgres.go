package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
)

// upsertChunkSize bounds the parameter count of a single multi-row insert.
const upsertChunkSize = 50

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		signature    TEXT PRIMARY KEY,
		slot         BIGINT NOT NULL,
		from_pubkey  TEXT,
		to_pubkey    TEXT,
		lamports     BIGINT,
		program_ids  TEXT[],
		instructions JSONB NOT NULL DEFAULT '[]'::jsonb,
		block_time   BIGINT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_slot_idx ON transactions (slot)`,
	`CREATE INDEX IF NOT EXISTS transactions_from_pubkey_idx ON transactions (from_pubkey)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_pubkey_idx ON transactions (to_pubkey)`,
	`CREATE INDEX IF NOT EXISTS transactions_program_ids_idx ON transactions USING GIN (program_ids)`,
}

// Postgres is a Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to |dsn| and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, maxConns int32, connectTimeout time.Duration) (*Postgres, error) {
	var cfg, err = pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	log.WithFields(log.Fields{
		"host":     cfg.ConnConfig.Host,
		"database": cfg.ConnConfig.Database,
		"maxConns": maxConns,
	}).Info("opening database")

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the transactions table and its indexes if absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}

func (p *Postgres) GetBySignature(ctx context.Context, signature string) (*Transaction, error) {
	var tx, err = scanTransaction(p.pool.QueryRow(ctx, getBySignatureSQL, signature))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying transaction %s: %w", signature, err)
	}
	return tx, nil
}

func (p *Postgres) BulkUpsert(ctx context.Context, txs []Transaction) (*BulkResult, error) {
	var result = &BulkResult{Inserted: make(map[string]struct{}, len(txs))}

	for start := 0; start < len(txs); start += upsertChunkSize {
		var end = start + upsertChunkSize
		if end > len(txs) {
			end = len(txs)
		}
		var chunk = txs[start:end]
		var sql, args = buildUpsertSQL(chunk)

		var err = func() error {
			rows, err := p.pool.Query(ctx, sql, args...)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var signature string
				if err = rows.Scan(&signature); err != nil {
					return err
				}
				result.Inserted[signature] = struct{}{}
			}
			return rows.Err()
		}()

		if err != nil {
			if ctx.Err() != nil {
				// Shutdown or timeout. Leave the remainder unreported so
				// the caller relies on redelivery rather than dead-lettering.
				return result, fmt.Errorf("bulk upsert interrupted: %w", ctx.Err())
			}
			log.WithFields(log.Fields{
				"chunkSize": len(chunk),
				"err":       err,
			}).Error("failed to insert chunk")
			for _, tx := range chunk {
				delete(result.Inserted, tx.Signature)
				result.Failed = append(result.Failed, BulkFailure{Signature: tx.Signature, Err: err})
			}
		}
	}
	return result, nil
}

func (p *Postgres) List(ctx context.Context, filter Filter, sort Sort, page Page) ([]Transaction, error) {
	var sql, args, err = buildListSQL(filter, sort, page)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (p *Postgres) ListSinceSlot(ctx context.Context, sinceSlot, limit int64) ([]Transaction, error) {
	var rows, err = p.pool.Query(ctx, listSinceSlotSQL, sinceSlot, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions since slot %d: %w", sinceSlot, err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (p *Postgres) Summary(ctx context.Context, filter Filter) (*Summary, error) {
	var sql, args = buildSummarySQL(filter)

	var summary Summary
	var err = p.pool.QueryRow(ctx, sql, args...).
		Scan(&summary.Total, &summary.MaxSlot, &summary.MaxCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("summarizing transactions: %w", err)
	}
	return &summary, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scannable) (*Transaction, error) {
	var tx Transaction
	var instructions []byte

	if err := row.Scan(
		&tx.Signature,
		&tx.Slot,
		&tx.FromPubkey,
		&tx.ToPubkey,
		&tx.Lamports,
		&tx.ProgramIDs,
		&instructions,
		&tx.BlockTime,
		&tx.CreatedAt,
	); err != nil {
		return nil, err
	}
	tx.Instructions = json.RawMessage(instructions)
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		var tx, err = scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transaction rows: %w", err)
	}
	return out, nil
}
