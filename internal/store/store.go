// Package store persists client-side state: the session snapshot and the
// trading outcome journal in SQLite, and exported account transactions in
// Parquet files.
package store

import (
	"context"

	"brokerlink/internal/domain"
)

// OutcomeJournal records trading operations for later display.
type OutcomeJournal interface {
	// RecordOutcome appends one record.
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error

	// ListOutcomes returns the most recent records, newest first, up to limit.
	ListOutcomes(ctx context.Context, limit int) ([]domain.OutcomeRecord, error)
}

// TransactionArchive persists account transactions.
type TransactionArchive interface {
	// WriteTransactions merges txs into the account's archive by transaction
	// id and returns the archive's record count.
	WriteTransactions(ctx context.Context, accountID string, txs []domain.Transaction) (int, error)

	// ReadTransactions returns the account's archived transactions ordered by
	// trade date.
	ReadTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error)
}
