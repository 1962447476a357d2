package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optionclear/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OptionRecord is the persisted form of a domain.Option. Monetary
// fields are stored as decimal strings so SQLite never rounds them.
type OptionRecord struct {
	ID     uint64 `gorm:"primaryKey"`
	Writer string `gorm:"index"`
	Holder string `gorm:"index"`

	Underlying string
	Strike     string
	Premium    string
	Amount     string
	Kind       string
	Style      string

	CreatedAt        time.Time
	Expiry           time.Time `gorm:"index"`
	ExerciseWindowNs int64

	State string `gorm:"index"`

	CollateralAsset  string
	CollateralLocked string

	UpdatedAt time.Time
}

// AccountRecord is the persisted form of a domain.CollateralAccount.
type AccountRecord struct {
	Owner     string `gorm:"primaryKey"`
	Asset     string `gorm:"primaryKey"`
	Available string
	Locked    string
	UpdatedAt time.Time
}

// QuoteRecord is the persisted form of a domain.PriceQuote.
type QuoteRecord struct {
	Asset      string `gorm:"primaryKey"`
	Price      string
	ObservedAt time.Time
	Publisher  string
}

// Storage persists clearinghouse state in SQLite (pure Go driver).
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path and migrates the
// schema.
func NewStorage(dbPath string) (*Storage, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&OptionRecord{}, &AccountRecord{}, &QuoteRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// StateStore implementation
// ======================================================================================

// SaveOption upserts an option record.
func (s *Storage) SaveOption(o *domain.Option) error {
	return s.db.Save(optionToRecord(o)).Error
}

// SaveAccount upserts an account record.
func (s *Storage) SaveAccount(a *domain.CollateralAccount) error {
	return s.db.Save(&AccountRecord{
		Owner:     a.Owner,
		Asset:     a.Asset,
		Available: a.Available.String(),
		Locked:    a.Locked.String(),
	}).Error
}

// SaveQuote upserts a quote record.
func (s *Storage) SaveQuote(q *domain.PriceQuote) error {
	return s.db.Save(&QuoteRecord{
		Asset:      q.Asset,
		Price:      q.Price.String(),
		ObservedAt: q.ObservedAt,
		Publisher:  q.Publisher,
	}).Error
}

// ======================================================================================
// Boot-time loads
// ======================================================================================

// LoadOptions returns all persisted options.
func (s *Storage) LoadOptions() ([]domain.Option, error) {
	var records []OptionRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}
	options := make([]domain.Option, 0, len(records))
	for _, r := range records {
		o, err := recordToOption(&r)
		if err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, nil
}

// LoadAccounts returns all persisted collateral accounts.
func (s *Storage) LoadAccounts() ([]domain.CollateralAccount, error) {
	var records []AccountRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}
	accounts := make([]domain.CollateralAccount, 0, len(records))
	for _, r := range records {
		available, err := decimal.NewFromString(r.Available)
		if err != nil {
			return nil, fmt.Errorf("corrupt available for %s/%s: %w", r.Owner, r.Asset, err)
		}
		locked, err := decimal.NewFromString(r.Locked)
		if err != nil {
			return nil, fmt.Errorf("corrupt locked for %s/%s: %w", r.Owner, r.Asset, err)
		}
		accounts = append(accounts, domain.CollateralAccount{
			Owner: r.Owner, Asset: r.Asset, Available: available, Locked: locked,
		})
	}
	return accounts, nil
}

// LoadQuotes returns all persisted quotes.
func (s *Storage) LoadQuotes() ([]domain.PriceQuote, error) {
	var records []QuoteRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}
	quotes := make([]domain.PriceQuote, 0, len(records))
	for _, r := range records {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("corrupt price for %s: %w", r.Asset, err)
		}
		quotes = append(quotes, domain.PriceQuote{
			Asset: r.Asset, Price: price, ObservedAt: r.ObservedAt, Publisher: r.Publisher,
		})
	}
	return quotes, nil
}

// ======================================================================================
// Mapping
// ======================================================================================

func optionToRecord(o *domain.Option) *OptionRecord {
	return &OptionRecord{
		ID:               o.ID,
		Writer:           o.Writer,
		Holder:           o.Holder,
		Underlying:       o.Underlying,
		Strike:           o.Strike.String(),
		Premium:          o.Premium.String(),
		Amount:           o.Amount.String(),
		Kind:             o.Kind,
		Style:            o.Style,
		CreatedAt:        o.CreatedAt,
		Expiry:           o.Expiry,
		ExerciseWindowNs: int64(o.ExerciseWindow),
		State:            o.State,
		CollateralAsset:  o.CollateralAsset,
		CollateralLocked: o.CollateralLocked.String(),
	}
}

func recordToOption(r *OptionRecord) (domain.Option, error) {
	strike, err := decimal.NewFromString(r.Strike)
	if err != nil {
		return domain.Option{}, fmt.Errorf("corrupt strike for option %d: %w", r.ID, err)
	}
	premium, err := decimal.NewFromString(r.Premium)
	if err != nil {
		return domain.Option{}, fmt.Errorf("corrupt premium for option %d: %w", r.ID, err)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return domain.Option{}, fmt.Errorf("corrupt amount for option %d: %w", r.ID, err)
	}
	locked, err := decimal.NewFromString(r.CollateralLocked)
	if err != nil {
		return domain.Option{}, fmt.Errorf("corrupt collateral for option %d: %w", r.ID, err)
	}
	return domain.Option{
		ID:               r.ID,
		Writer:           r.Writer,
		Holder:           r.Holder,
		Underlying:       r.Underlying,
		Strike:           strike,
		Premium:          premium,
		Amount:           amount,
		Kind:             r.Kind,
		Style:            r.Style,
		CreatedAt:        r.CreatedAt,
		Expiry:           r.Expiry,
		ExerciseWindow:   time.Duration(r.ExerciseWindowNs),
		State:            r.State,
		CollateralAsset:  r.CollateralAsset,
		CollateralLocked: locked,
	}, nil
}
