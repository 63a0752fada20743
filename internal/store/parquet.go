package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"brokerlink/internal/domain"
)

// Compile-time interface check.
var _ TransactionArchive = (*ParquetStore)(nil)

// ParquetStore implements TransactionArchive using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// TransactionRecord is the Parquet schema for account transactions. Amounts
// are decimal strings so no precision is lost; "" means absent.
type TransactionRecord struct {
	ID             string `parquet:"id"`
	Symbol         string `parquet:"symbol"`
	Description    string `parquet:"description"`
	Type           string `parquet:"type"`
	OptionType     string `parquet:"option_type"`
	Units          string `parquet:"units"`
	Price          string `parquet:"price"`
	Amount         string `parquet:"amount"`
	Currency       string `parquet:"currency"`
	TradeDate      string `parquet:"trade_date"`
	SettlementDate string `parquet:"settlement_date"`
	Fee            string `parquet:"fee"`
	Institution    string `parquet:"institution"`
}

// ---------------------------------------------------------------------------
// TransactionArchive implementation
// ---------------------------------------------------------------------------

// WriteTransactions merges txs into <DataDir>/<accountID>/transactions.parquet,
// preferring incoming records over existing ones with the same id.
func (s *ParquetStore) WriteTransactions(_ context.Context, accountID string, txs []domain.Transaction) (int, error) {
	path := s.transactionsPath(accountID)

	existing, err := readParquetFile[TransactionRecord](path)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("reading archive for %s: %w", accountID, err)
	}

	incoming := make([]TransactionRecord, 0, len(txs))
	for _, tx := range txs {
		incoming = append(incoming, toRecord(tx))
	}
	merged := mergeTransactionRecords(existing, incoming)

	if err := writeParquetFile(path, merged); err != nil {
		return 0, fmt.Errorf("writing transactions for %s: %w", accountID, err)
	}
	return len(merged), nil
}

// ReadTransactions reads the account's archive. A missing archive yields no
// transactions and no error.
func (s *ParquetStore) ReadTransactions(_ context.Context, accountID string) ([]domain.Transaction, error) {
	records, err := readParquetFile[TransactionRecord](s.transactionsPath(accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	txs := make([]domain.Transaction, 0, len(records))
	for _, r := range records {
		txs = append(txs, fromRecord(r))
	}
	return txs, nil
}

// transactionsPath returns the filesystem path of an account archive.
// Layout: <dataDir>/<accountID>/transactions.parquet
func (s *ParquetStore) transactionsPath(accountID string) string {
	return filepath.Join(s.DataDir, filepath.Base(accountID), "transactions.parquet")
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func decString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func parseDec(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func toRecord(tx domain.Transaction) TransactionRecord {
	return TransactionRecord{
		ID:             tx.ID,
		Symbol:         tx.Symbol,
		Description:    tx.Description,
		Type:           tx.Type,
		OptionType:     tx.OptionType,
		Units:          decString(tx.Units),
		Price:          decString(tx.Price),
		Amount:         decString(tx.Amount),
		Currency:       tx.Currency,
		TradeDate:      tx.TradeDate,
		SettlementDate: tx.SettlementDate,
		Fee:            decString(tx.Fee),
		Institution:    tx.Institution,
	}
}

func fromRecord(r TransactionRecord) domain.Transaction {
	return domain.Transaction{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Description:    r.Description,
		Type:           r.Type,
		OptionType:     r.OptionType,
		Units:          parseDec(r.Units),
		Price:          parseDec(r.Price),
		Amount:         parseDec(r.Amount),
		Currency:       r.Currency,
		TradeDate:      r.TradeDate,
		SettlementDate: r.SettlementDate,
		Fee:            parseDec(r.Fee),
		Institution:    r.Institution,
	}
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTransactionRecords deduplicates records by id, preferring incoming
// over existing. Records without an id are always kept. Results are sorted
// by trade date, then id.
func mergeTransactionRecords(existing, incoming []TransactionRecord) []TransactionRecord {
	seen := make(map[string]TransactionRecord, len(existing)+len(incoming))
	var anonymous []TransactionRecord
	for _, group := range [][]TransactionRecord{existing, incoming} {
		for _, r := range group {
			if r.ID == "" {
				anonymous = append(anonymous, r)
				continue
			}
			seen[r.ID] = r
		}
	}

	merged := make([]TransactionRecord, 0, len(seen)+len(anonymous))
	for _, r := range seen {
		merged = append(merged, r)
	}
	merged = append(merged, anonymous...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].TradeDate != merged[j].TradeDate {
			return merged[i].TradeDate < merged[j].TradeDate
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
