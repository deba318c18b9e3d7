// Package audit persists the engine's only durable state: one immutable
// record per completed arbitrage attempt. Records are append-only; nothing
// in the system updates or deletes them.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vportnov.me/arbot/types"
)

// Record is the audit surface of one attempt: the two router identities,
// both legs' amounts, and the signed profit.
type Record struct {
	AttemptID     string
	Path          string // "atomic" or "parallel"
	Status        string
	SellRouter    string
	BuyRouter     string
	TokenIn       string
	TokenOut      string
	AmountIn      string
	BalanceBefore string
	BalanceAfter  string
	Profit        string // signed decimal
	MinProfit     string
	Checked       bool
	SellTxHash    string
	BuyTxHash     string
	CreatedAt     time.Time
	Checksum      uint64
}

// NewRecord flattens a finalized attempt into its audit form.
func NewRecord(attempt *types.ArbAttempt, path string) Record {
	rec := Record{
		AttemptID:     attempt.ID,
		Path:          path,
		Status:        attempt.Status.String(),
		SellRouter:    attempt.SellLeg.Router.String(),
		BuyRouter:     attempt.BuyLeg.Router.String(),
		TokenIn:       attempt.SellLeg.TokenIn.Hex(),
		TokenOut:      attempt.SellLeg.TokenOut.Hex(),
		AmountIn:      bigString(attempt.SellLeg.AmountIn),
		BalanceBefore: bigString(attempt.BalanceBefore),
		BalanceAfter:  bigString(attempt.BalanceAfter),
		Profit:        bigString(attempt.Profit),
		MinProfit:     bigString(attempt.MinProfit),
		Checked:       attempt.Checked,
		SellTxHash:    attempt.SellOutcome.TxHash.Hex(),
		BuyTxHash:     attempt.BuyOutcome.TxHash.Hex(),
		CreatedAt:     attempt.FinishedAt,
	}
	rec.Checksum = rec.checksum()
	return rec
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// checksum fingerprints the canonical record fields so tampering with a
// stored row is detectable.
func (r Record) checksum() uint64 {
	canonical := strings.Join([]string{
		r.AttemptID, r.Path, r.Status,
		r.SellRouter, r.BuyRouter,
		r.TokenIn, r.TokenOut, r.AmountIn,
		r.BalanceBefore, r.BalanceAfter, r.Profit, r.MinProfit,
		fmt.Sprintf("%t", r.Checked),
		r.SellTxHash, r.BuyTxHash,
	}, "|")
	return xxhash.Sum64String(canonical)
}

// Verify recomputes the checksum against the stored one.
func (r Record) Verify() bool {
	return r.checksum() == r.Checksum
}

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	attempt_id     TEXT PRIMARY KEY,
	path           TEXT NOT NULL,
	status         TEXT NOT NULL,
	sell_router    TEXT NOT NULL,
	buy_router     TEXT NOT NULL,
	token_in       TEXT NOT NULL,
	token_out      TEXT NOT NULL,
	amount_in      TEXT NOT NULL,
	balance_before TEXT NOT NULL,
	balance_after  TEXT NOT NULL,
	profit         TEXT NOT NULL,
	min_profit     TEXT NOT NULL,
	checked        INTEGER NOT NULL,
	sell_tx_hash   TEXT NOT NULL,
	buy_tx_hash    TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	checksum       INTEGER NOT NULL
);`

// Recorder appends attempt records to a SQLite store and mirrors each one
// as a structured log line.
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder opens (or creates) the store at path. Use ":memory:" for an
// ephemeral store in tests and dry runs.
func NewRecorder(path string, logger *zap.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &Recorder{db: db, logger: logger}, nil
}

// Append stores one record. Records are never updated afterwards.
func (r *Recorder) Append(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (
			attempt_id, path, status, sell_router, buy_router,
			token_in, token_out, amount_in,
			balance_before, balance_after, profit, min_profit,
			checked, sell_tx_hash, buy_tx_hash, created_at, checksum
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AttemptID, rec.Path, rec.Status, rec.SellRouter, rec.BuyRouter,
		rec.TokenIn, rec.TokenOut, rec.AmountIn,
		rec.BalanceBefore, rec.BalanceAfter, rec.Profit, rec.MinProfit,
		rec.Checked, rec.SellTxHash, rec.BuyTxHash, rec.CreatedAt, int64(rec.Checksum),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	r.logger.Info("attempt recorded",
		zap.String("attempt_id", rec.AttemptID),
		zap.String("path", rec.Path),
		zap.String("status", rec.Status),
		zap.String("sell_router", rec.SellRouter),
		zap.String("buy_router", rec.BuyRouter),
		zap.String("profit", rec.Profit),
		zap.Bool("checked", rec.Checked),
	)
	return nil
}

// Recent returns up to limit records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT attempt_id, path, status, sell_router, buy_router,
		       token_in, token_out, amount_in,
		       balance_before, balance_after, profit, min_profit,
		       checked, sell_tx_hash, buy_tx_hash, created_at, checksum
		FROM attempts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var checksum int64
		if err := rows.Scan(
			&rec.AttemptID, &rec.Path, &rec.Status, &rec.SellRouter, &rec.BuyRouter,
			&rec.TokenIn, &rec.TokenOut, &rec.AmountIn,
			&rec.BalanceBefore, &rec.BalanceAfter, &rec.Profit, &rec.MinProfit,
			&rec.Checked, &rec.SellTxHash, &rec.BuyTxHash, &rec.CreatedAt, &checksum,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Checksum = uint64(checksum)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying store.
func (r *Recorder) Close() error {
	return r.db.Close()
}
