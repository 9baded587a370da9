// Package history persists the telemetry audit trail (raw frames and
// decoded snapshots) to a local sqlite database using the pure Go driver.
package history

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/openmast/groundlink/internal/telemetry"
)

// Archive is an append-only store. Write failures are logged, never
// propagated: losing an audit row must not disturb the live link.
type Archive struct {
	db    *gorm.DB
	log   zerolog.Logger
	epoch atomic.Uint64
}

type gormLogWriter struct {
	log zerolog.Logger
}

func (w gormLogWriter) Printf(format string, args ...any) {
	w.log.Warn().Msgf(format, args...)
}

// Open opens (or creates) the archive database and migrates its schema.
func Open(path string, log zerolog.Logger) (*Archive, error) {
	log = log.With().Str("comp", "history").Logger()

	gormLog := logger.New(gormLogWriter{log: log}, logger.Config{
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&FrameRecord{}, &SnapshotRecord{}); err != nil {
		return nil, err
	}

	a := &Archive{db: db, log: log}

	// resume epoch numbering from the last recorded frame
	var last FrameRecord
	if err := db.Order("epoch desc").First(&last).Error; err == nil {
		a.epoch.Store(last.Epoch)
	}

	log.Info().Str("path", path).Msg("archive opened")
	return a, nil
}

// BeginEpoch advances the epoch counter; subsequent appends carry the new
// number. Epochs are never merged: replay tooling slices on this column.
func (a *Archive) BeginEpoch() {
	a.epoch.Add(1)
}

// Epoch returns the current epoch number.
func (a *Archive) Epoch() uint64 {
	return a.epoch.Load()
}

// AppendFrame records one raw frame.
func (a *Archive) AppendFrame(at time.Time, raw string) {
	rec := FrameRecord{At: at, Epoch: a.epoch.Load(), Raw: raw}
	if err := a.db.Create(&rec).Error; err != nil {
		a.log.Error().Err(err).Msg("append frame failed")
	}
}

// AppendSnapshot records one decoded snapshot as JSON.
func (a *Archive) AppendSnapshot(at time.Time, snap telemetry.Snapshot) {
	fields, err := json.Marshal(snap)
	if err != nil {
		a.log.Error().Err(err).Msg("encode snapshot failed")
		return
	}
	rec := SnapshotRecord{At: at, Epoch: a.epoch.Load(), Fields: string(fields)}
	if err := a.db.Create(&rec).Error; err != nil {
		a.log.Error().Err(err).Msg("append snapshot failed")
	}
}

// FrameCount reports stored frames, optionally scoped to one epoch (pass 0
// for all).
func (a *Archive) FrameCount(epoch uint64) (int64, error) {
	q := a.db.Model(&FrameRecord{})
	if epoch > 0 {
		q = q.Where("epoch = ?", epoch)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// SnapshotCount reports stored snapshots, optionally scoped to one epoch.
func (a *Archive) SnapshotCount(epoch uint64) (int64, error) {
	q := a.db.Model(&SnapshotRecord{})
	if epoch > 0 {
		q = q.Where("epoch = ?", epoch)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
