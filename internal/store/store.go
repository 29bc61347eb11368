package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/awaistahir/microgrid/internal/config"
	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/trading"
)

// Keys of the persisted state.
const (
	KeyEnergy       = "energyData"
	KeyBook         = "tradingOffers"
	KeyTransactions = "transactions"
)

// Store persists the community, the market book and the transaction log
// on top of a Backend.
type Store struct {
	b   Backend
	log *zap.Logger
}

func New(b Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{b: b, log: log}
}

// Open builds the backend selected in cfg.
func Open(cfg *config.Config, log *zap.Logger) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Storage.Backend {
	case "redis":
		b, err = NewRedis(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisPrefix)
	case "sqlite", "":
		b, err = NewSQLite(cfg.DBPath)
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(b, log), nil
}

func (s *Store) Close() error {
	return s.b.Close()
}

// LoadEnergy returns the persisted community, or nil when none is stored.
// Undecodable data or data outside the current ranges is reported as
// grid.ErrStale.
func (s *Store) LoadEnergy(ctx context.Context) (*grid.State, error) {
	raw, err := s.b.Get(ctx, KeyEnergy)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st grid.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", grid.ErrStale, err)
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SaveEnergy(ctx context.Context, st grid.State) error {
	return s.put(ctx, KeyEnergy, st)
}

// LoadBook returns the persisted market book, or nil when none is stored
// or it cannot be decoded.
func (s *Store) LoadBook(ctx context.Context) (*trading.Book, error) {
	raw, err := s.b.Get(ctx, KeyBook)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var book trading.Book
	if err := json.Unmarshal(raw, &book); err != nil {
		s.log.Warn("discarding undecodable market book", zap.Error(err))
		return nil, nil
	}
	return &book, nil
}

func (s *Store) SaveBook(ctx context.Context, b trading.Book) error {
	return s.put(ctx, KeyBook, b)
}

func (s *Store) AppendTransaction(ctx context.Context, tx trading.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}
	return s.b.Append(ctx, KeyTransactions, data)
}

// Transactions returns the whole log in append order. Undecodable entries
// are skipped.
func (s *Store) Transactions(ctx context.Context) ([]trading.Transaction, error) {
	entries, err := s.b.ReadLog(ctx, KeyTransactions)
	if err != nil {
		return nil, err
	}

	txs := make([]trading.Transaction, 0, len(entries))
	for i, e := range entries {
		var tx trading.Transaction
		if err := json.Unmarshal(e, &tx); err != nil {
			s.log.Warn("skipping undecodable transaction", zap.Int("index", i), zap.Error(err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// DiscardState removes the community and the book. The transaction log is
// kept.
func (s *Store) DiscardState(ctx context.Context) error {
	if err := s.b.Delete(ctx, KeyEnergy); err != nil {
		return err
	}
	return s.b.Delete(ctx, KeyBook)
}

// Reset removes everything, including the transaction log.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.DiscardState(ctx); err != nil {
		return err
	}
	return s.b.ClearLog(ctx, KeyTransactions)
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.b.Put(ctx, key, data)
}
