package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// hashField is one field of a hash.
type hashField struct {
	Key   string `gorm:"column:kv_key;type:varchar(255);primaryKey"`
	Field string `gorm:"type:varchar(255);primaryKey"`
	Value string `gorm:"type:text;not null"`
}

func (hashField) TableName() string { return "kv_hash_fields" }

// zsetMember is one member of a sorted set. Seq records write order and
// breaks score ties (latest first).
type zsetMember struct {
	Key    string  `gorm:"column:kv_key;type:varchar(255);primaryKey;index:idx_kv_zset_rank,priority:1"`
	Member string  `gorm:"type:varchar(255);primaryKey"`
	Score  float64 `gorm:"not null;index:idx_kv_zset_rank,priority:2"`
	Seq    int64   `gorm:"not null"`
}

func (zsetMember) TableName() string { return "kv_zset_members" }

// SQLOptions configures the SQL backend.
type SQLOptions struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path / sqlite DSN, or a postgres connection string.
	DSN string
	// Tracing installs the GORM OpenTelemetry plugin.
	Tracing bool
	// Silent disables GORM's SQL logger.
	Silent bool
}

// SQL is a Store backed by two relational tables. Every batch runs in one
// transaction, so coupled writes commit or fail together.
type SQL struct {
	db *gorm.DB

	seqMu   sync.Mutex
	lastSeq int64
}

// OpenSQL opens the configured database, applies PRAGMAs for SQLite,
// configures the pool, and migrates the schema.
func OpenSQL(o SQLOptions) (*SQL, error) {
	cfg := &gorm.Config{}
	if o.Silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(o.Driver)) {
	case "", "sqlite":
		db, err = openSQLite(o.DSN, cfg)
	case "postgres", "postgresql":
		db, err = gorm.Open(postgres.Open(o.DSN), cfg)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", o.Driver)
	}
	if err != nil {
		return nil, err
	}

	if o.Tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("install gorm tracing: %w", err)
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return NewSQL(db)
}

func openSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist (instead of sqlite "out of memory (14)").
	if !strings.HasPrefix(path, "file:") && !strings.Contains(path, ":memory:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	return db, nil
}

// NewSQL wraps an open handle and migrates the schema.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&hashField{}, &zsetMember{}); err != nil {
		return nil, fmt.Errorf("migrate kv schema: %w", err)
	}
	return &SQL{db: db}, nil
}

// DB exposes the underlying handle.
func (s *SQL) DB() *gorm.DB { return s.db }

// HGetAll returns every field of the hash at key.
func (s *SQL) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var rows []hashField
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

// HGetAllMany reads the fields of all keys in one query.
func (s *SQL) HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var rows []hashField
	if err := s.db.WithContext(ctx).Where("kv_key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	byKey := make(map[string]map[string]string, len(keys))
	for _, r := range rows {
		m, ok := byKey[r.Key]
		if !ok {
			m = make(map[string]string)
			byKey[r.Key] = m
		}
		m[r.Field] = r.Value
	}
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		if m, ok := byKey[k]; ok {
			out[i] = m
		} else {
			out[i] = map[string]string{}
		}
	}
	return out, nil
}

// HGet returns one field of the hash at key.
func (s *SQL) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var row hashField
	err := s.db.WithContext(ctx).Where("kv_key = ? AND field = ?", key, field).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// ZRevRange pages members by score, then write sequence, descending.
func (s *SQL) ZRevRange(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	if start < 0 {
		start = 0
	}
	q := s.db.WithContext(ctx).
		Where("kv_key = ?", key).
		Order("score desc").
		Order("seq desc").
		Offset(int(start))
	if stop >= 0 {
		if stop < start {
			return []Member{}, nil
		}
		q = q.Limit(int(stop - start + 1))
	}
	var rows []zsetMember
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, Member{Member: r.Member, Score: r.Score})
	}
	return out, nil
}

// ZCard counts the members of the sorted set at key.
func (s *SQL) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&zsetMember{}).Where("kv_key = ?", key).Count(&n).Error
	return n, err
}

// Batch applies the recorded operations in one transaction.
func (s *SQL) Batch(ctx context.Context, fn func(b Batch)) error {
	ops := record(fn)
	if len(ops) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range ops {
			if err := s.apply(tx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

// apply executes one recorded op inside tx.
func (s *SQL) apply(tx *gorm.DB, o op) error {
	switch o.kind {
	case opHSet:
		if len(o.fields) == 0 {
			return nil
		}
		rows := make([]hashField, 0, len(o.fields))
		for f, v := range o.fields {
			rows = append(rows, hashField{Key: o.key, Field: f, Value: v})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}, {Name: "field"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&rows).Error
	case opDel:
		if err := tx.Where("kv_key IN ?", o.keys).Delete(&hashField{}).Error; err != nil {
			return err
		}
		return tx.Where("kv_key IN ?", o.keys).Delete(&zsetMember{}).Error
	case opZAdd:
		row := zsetMember{Key: o.key, Member: o.member, Score: o.score, Seq: s.nextSeq()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}, {Name: "member"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "seq"}),
		}).Create(&row).Error
	case opZRem:
		return tx.Where("kv_key = ? AND member IN ?", o.key, o.members).Delete(&zsetMember{}).Error
	}
	return fmt.Errorf("unknown batch op %d", o.kind)
}

// nextSeq returns a strictly increasing sequence number.
func (s *SQL) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	n := time.Now().UnixNano()
	if n <= s.lastSeq {
		n = s.lastSeq + 1
	}
	s.lastSeq = n
	return n
}

// Ping checks the database connection.
func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
