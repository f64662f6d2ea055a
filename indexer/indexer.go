package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cdpchain/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// EventRecord is the persisted form of one published event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Asset      string    `gorm:"index"`
	Owner      string    `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	EmittedAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type          string
	Asset         string
	Owner         string
	AfterSequence uint64
	Limit         int
}

// Store persists the event history.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Index stores evts. Events already stored under the same sequence are
// skipped so replays are harmless.
func (s *Store) Index(ctx context.Context, evts []*types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	records := make([]EventRecord, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("indexer: encode attributes: %w", err)
		}
		records = append(records, EventRecord{
			ID:         uuid.New(),
			Sequence:   evt.Sequence,
			Type:       evt.Type,
			Asset:      evt.Attr("asset"),
			Owner:      evt.Attr("owner"),
			Attributes: string(attrs),
			EmittedAt:  time.Unix(evt.Timestamp, 0).UTC(),
		})
	}
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sequence"}}, DoNothing: true}).
		CreateInBatches(&records, 200).Error
}

// List returns events in ascending sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]*types.Event, error) {
	records, err := s.records(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Event, 0, len(records))
	for i := range records {
		evt, err := records[i].event()
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Store) records(ctx context.Context, filter Filter) ([]EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.db.WithContext(ctx).Model(&EventRecord{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Asset != "" {
		query = query.Where("asset = ?", strings.ToUpper(strings.TrimSpace(filter.Asset)))
	}
	if filter.Owner != "" {
		query = query.Where("owner = ?", filter.Owner)
	}
	if filter.AfterSequence > 0 {
		query = query.Where("sequence > ?", filter.AfterSequence)
	}
	var records []EventRecord
	if err := query.Order("sequence asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	return records, nil
}

func (r *EventRecord) event() (*types.Event, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("indexer: decode attributes of %d: %w", r.Sequence, err)
		}
	}
	return &types.Event{
		Sequence:   r.Sequence,
		Timestamp:  r.EmittedAt.Unix(),
		Type:       r.Type,
		Attributes: attrs,
	}, nil
}
