package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SnapshotRecord is one archived snapshot document. Records are append-only;
// the newest row is the authoritative off-box copy.
type SnapshotRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Document  []byte    `gorm:"type:jsonb;not null"`
	SavedAt   time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

// Archive is the optional Postgres-backed snapshot sink. It is never the
// source of truth; the in-memory store with its snapshot file is.
type Archive struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// ArchiveEnabled reports whether the DB_HOST env var is set; without it the
// archive stays off and the store runs file-only.
func ArchiveEnabled() bool {
	return os.Getenv("DB_HOST") != ""
}

// NewArchive connects to Postgres using the DB_* env vars.
func NewArchive(zlog *zap.SugaredLogger) (*Archive, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)
	return newArchive(dsn, zlog)
}

// NewArchiveDSN connects with an explicit DSN (integration tests).
func NewArchiveDSN(dsn string, zlog *zap.SugaredLogger) (*Archive, error) {
	return newArchive(dsn, zlog)
}

func newArchive(dsn string, zlog *zap.SugaredLogger) (*Archive, error) {
	// Cheap connectivity check before handing the DSN to GORM.
	probe, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := probe.Ping(); err != nil {
		probe.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	probe.Close()

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating archive schema: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	zlog.Infow("✅ Snapshot archive connected", "dbname", os.Getenv("DB_NAME"))

	return &Archive{db: db, log: zlog}, nil
}

// ArchiveSnapshot appends the snapshot document.
func (a *Archive) ArchiveSnapshot(doc []byte, savedAt time.Time) error {
	rec := SnapshotRecord{Document: doc, SavedAt: savedAt}
	return a.db.Create(&rec).Error
}

// Latest returns the most recently archived snapshot document.
func (a *Archive) Latest() ([]byte, error) {
	var rec SnapshotRecord
	if err := a.db.Order("saved_at desc").First(&rec).Error; err != nil {
		return nil, err
	}
	return rec.Document, nil
}

// Health checks the archive connection by pinging the database.
func (a *Archive) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats := make(map[string]string)

	sqlDB, err := a.db.DB()
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db error: %v", err)
		return stats
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	dbStats := sqlDB.Stats()
	stats["open_connections"] = fmt.Sprintf("%d", dbStats.OpenConnections)
	stats["in_use"] = fmt.Sprintf("%d", dbStats.InUse)
	stats["idle"] = fmt.Sprintf("%d", dbStats.Idle)
	return stats
}

// Close closes the archive connection.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
