// Package pgstore is the gorm/postgres-backed persistence.Adapter, the
// fleet's relational store for checkpoints, events, and reading history.
//
// Grounded on internal/common/repository/base.go's GORM conventions
// (WithContext, Create/First/Save, struct-tagged models) and
// internal/tracking/repository.go's query patterns, adapted from a
// generic filtered-entity repository to three fixed append/upsert tables.
package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// estimatorSnapshotRow is the latest-checkpoint-per-truck table; Save
// upserts on truck_id so LatestSnapshot never needs an ORDER BY scan.
type estimatorSnapshotRow struct {
	TruckID     string `gorm:"primaryKey"`
	EKFJSON     string
	IdleJSON    string
	CheckpointAt time.Time
}

type eventRow struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Topic     string `gorm:"index"`
	TruckID   string `gorm:"index"`
	PayloadJSON string
	Timestamp time.Time `gorm:"index"`
}

type readingRow struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	TruckID   string    `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	ReadingJSON string
}

// Store is a persistence.Adapter backed by a postgres database via gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the three tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&estimatorSnapshotRow{}, &eventRow{}, &readingRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) EstimatorSnapshot(ctx context.Context, truckID string, ekf models.EKFState, idle models.IdleKalmanState, ts time.Time) error {
	ekfJSON, err := json.Marshal(ekf)
	if err != nil {
		return err
	}
	idleJSON, err := json.Marshal(idle)
	if err != nil {
		return err
	}
	row := estimatorSnapshotRow{
		TruckID:      truckID,
		EKFJSON:      string(ekfJSON),
		IdleJSON:     string(idleJSON),
		CheckpointAt: ts,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) Event(ctx context.Context, topic string, truckID string, payload interface{}, ts time.Time) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	row := eventRow{
		Topic:       topic,
		TruckID:     truckID,
		PayloadJSON: string(payloadJSON),
		Timestamp:   ts,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) ReadingArchive(ctx context.Context, reading models.Reading) error {
	readingJSON, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	row := readingRow{
		TruckID:     reading.TruckID,
		Timestamp:   reading.Timestamp,
		ReadingJSON: string(readingJSON),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) LatestSnapshot(ctx context.Context, truckID string) (*models.EKFState, *models.IdleKalmanState, bool, error) {
	var row estimatorSnapshotRow
	err := s.db.WithContext(ctx).Where("truck_id = ?", truckID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	var ekf models.EKFState
	if err := json.Unmarshal([]byte(row.EKFJSON), &ekf); err != nil {
		return nil, nil, false, err
	}
	var idle models.IdleKalmanState
	if err := json.Unmarshal([]byte(row.IdleJSON), &idle); err != nil {
		return nil, nil, false, err
	}
	return &ekf, &idle, true, nil
}

func (s *Store) History(ctx context.Context, truckID string, since, until time.Time) ([]models.Reading, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Where("truck_id = ? AND timestamp >= ? AND timestamp <= ?", truckID, since, until).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	readings := make([]models.Reading, 0, len(rows))
	for _, row := range rows {
		var r models.Reading
		if err := json.Unmarshal([]byte(row.ReadingJSON), &r); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}
