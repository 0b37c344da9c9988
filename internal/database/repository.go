package database

import (
	"context"
	"fmt"

	"bybit-funding-bot/internal/signals"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNALS
// ============================================================================

// InsertSignal persists a scored signal. Append-only.
func (r *Repository) InsertSignal(ctx context.Context, sig *signals.Signal, dispatched bool) error {
	query := `
		INSERT INTO signals (id, symbol, signal_type, bias, funding_rate, funding_delta, rsi,
		                     score, price, volume_24h, timeframe, context, momentum_label, funding_bias,
		                     dispatched, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		sig.ID, sig.Symbol, sig.Type, sig.Bias, sig.FundingRate, sig.FundingDelta, sig.RSI,
		sig.Score, sig.Price, sig.Volume24h, sig.Timeframe, sig.Context, sig.MomentumLabel, sig.FundingBias,
		dispatched, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// RecentSignals retrieves the latest signals, newest first.
func (r *Repository) RecentSignals(ctx context.Context, limit int) ([]*signals.Signal, error) {
	query := `
		SELECT id, symbol, signal_type, bias, funding_rate, funding_delta, rsi,
		       score, price, volume_24h, timeframe, context, momentum_label, funding_bias, created_at
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent signals: %w", err)
	}
	defer rows.Close()

	var result []*signals.Signal
	for rows.Next() {
		sig := &signals.Signal{}
		err := rows.Scan(
			&sig.ID, &sig.Symbol, &sig.Type, &sig.Bias, &sig.FundingRate, &sig.FundingDelta, &sig.RSI,
			&sig.Score, &sig.Price, &sig.Volume24h, &sig.Timeframe, &sig.Context, &sig.MomentumLabel, &sig.FundingBias,
			&sig.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		result = append(result, sig)
	}
	return result, rows.Err()
}

// ============================================================================
// FUNDING SNAPSHOTS
// ============================================================================

// InsertFundingSnapshot persists a funding observation. Append-only.
func (r *Repository) InsertFundingSnapshot(ctx context.Context, snap *FundingSnapshot) error {
	query := `
		INSERT INTO funding_snapshots (symbol, funding_rate, funding_delta, price, volume_24h,
		                               open_interest, next_funding_time, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		snap.Symbol, snap.FundingRate, snap.FundingDelta, snap.Price, snap.Volume24h,
		snap.OpenInterest, snap.NextFundingTime, snap.CapturedAt,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("insert funding snapshot: %w", err)
	}
	return nil
}

// FundingHistory retrieves recent snapshots for a symbol, newest first.
func (r *Repository) FundingHistory(ctx context.Context, symbol string, limit int) ([]*FundingSnapshot, error) {
	query := `
		SELECT id, symbol, funding_rate, funding_delta, price, volume_24h,
		       open_interest, next_funding_time, captured_at
		FROM funding_snapshots
		WHERE symbol = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query funding history: %w", err)
	}
	defer rows.Close()

	var result []*FundingSnapshot
	for rows.Next() {
		snap := &FundingSnapshot{}
		err := rows.Scan(
			&snap.ID, &snap.Symbol, &snap.FundingRate, &snap.FundingDelta, &snap.Price, &snap.Volume24h,
			&snap.OpenInterest, &snap.NextFundingTime, &snap.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan funding snapshot: %w", err)
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}
