package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofrs/flock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ledgerRecord holds one serialized logical store.
type ledgerRecord struct {
	Name      string `gorm:"primaryKey"`
	Payload   string `gorm:"not null"`
	UpdatedAt time.Time
}

func (ledgerRecord) TableName() string { return "ledger_records" }

// SQLiteBackend keeps the ledger as a single row of a SQLite database.
type SQLiteBackend struct {
	db   *gorm.DB
	name string
	lock *flock.Flock
}

// OpenSQLite opens (creating if needed) the database at path and stores the
// ledger under the record name.
func OpenSQLite(path, name string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&ledgerRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteBackend{db: db, name: name, lock: flock.New(path + ".lock")}, nil
}

// Lock takes the exclusive inter-process lock guarding read-modify-write
// cycles on the record.
func (b *SQLiteBackend) Lock() (unlock func() error, err error) {
	return lockFile(b.lock)
}

// Read returns the stored payload, or nil if the record does not exist.
func (b *SQLiteBackend) Read() ([]byte, error) {
	var rec ledgerRecord
	err := b.db.Where("name = ?", b.name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading record %q: %w", b.name, err)
	}
	return []byte(rec.Payload), nil
}

// Write upserts the record.
func (b *SQLiteBackend) Write(data []byte) error {
	return b.put(b.name, data)
}

func (b *SQLiteBackend) put(name string, data []byte) error {
	rec := ledgerRecord{Name: name, Payload: string(data), UpdatedAt: time.Now()}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("storage error writing record %q: %w", name, err)
	}
	return nil
}

// Quarantine copies an unreadable payload to "<name>.corrupt" and deletes
// the original record.
func (b *SQLiteBackend) Quarantine() (string, error) {
	data, err := b.Read()
	if err != nil {
		return "", err
	}
	backup := b.name + ".corrupt"
	return backup, b.db.Transaction(func(tx *gorm.DB) error {
		inner := &SQLiteBackend{db: tx, name: b.name}
		if err := inner.put(backup, data); err != nil {
			return err
		}
		return tx.Where("name = ?", b.name).Delete(&ledgerRecord{}).Error
	})
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
