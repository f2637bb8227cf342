// Package rediscache wraps a primary persistence.Adapter with a
// Redis-backed bounded buffer for writes the primary adapter rejects:
// buffer in a bounded in-memory queue, and after overflow drop the
// oldest archive records while keeping snapshots. Snapshots get their
// own list so a flood of archive-record failures can never evict a
// truck's last checkpoint.
//
// Grounded on internal/common/cache/redis_cache.go's go-redis/v8 client
// usage and JSON marshal-before-Set convention, and on
// internal/tracking/cached_service.go's cache-in-front-of-store layering,
// adapted from a read-through GET cache to a write-behind retry buffer.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	snapshotListKey  = "fleetfuel:buffer:snapshots"
	archiveListKey   = "fleetfuel:buffer:archive"
	maxArchiveBuffer = 10000
)

type bufferedRecord struct {
	Kind      string          `json:"kind"`
	TruckID   string          `json:"truck_id"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store decorates a primary Adapter: writes go straight through; on
// failure they are buffered in Redis instead of being lost, and a
// background loop periodically retries flushing the buffer.
type Store struct {
	primary persistence.Adapter
	rdb     *redis.Client
}

// New wraps primary with a Redis buffer and starts its retry loop.
func New(primary persistence.Adapter, rdb *redis.Client, retryInterval time.Duration) *Store {
	s := &Store{primary: primary, rdb: rdb}
	go s.retryLoop(retryInterval)
	return s
}

func (s *Store) EstimatorSnapshot(ctx context.Context, truckID string, ekf models.EKFState, idle models.IdleKalmanState, ts time.Time) error {
	if err := s.primary.EstimatorSnapshot(ctx, truckID, ekf, idle, ts); err != nil {
		logging.Warn("snapshot write failed, buffering in redis", "truck_id", truckID, "error", err.Error())
		payload, marshalErr := json.Marshal(struct {
			EKF  models.EKFState        `json:"ekf"`
			Idle models.IdleKalmanState `json:"idle"`
		}{ekf, idle})
		if marshalErr != nil {
			return marshalErr
		}
		return s.buffer(ctx, snapshotListKey, bufferedRecord{Kind: "snapshot", TruckID: truckID, Payload: payload, Timestamp: ts}, -1)
	}
	return nil
}

func (s *Store) Event(ctx context.Context, topic string, truckID string, payload interface{}, ts time.Time) error {
	if err := s.primary.Event(ctx, topic, truckID, payload, ts); err != nil {
		logging.Warn("event write failed, buffering in redis", "truck_id", truckID, "topic", topic, "error", err.Error())
		raw, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return marshalErr
		}
		return s.buffer(ctx, archiveListKey, bufferedRecord{Kind: "event", TruckID: truckID, Topic: topic, Payload: raw, Timestamp: ts}, maxArchiveBuffer)
	}
	return nil
}

func (s *Store) ReadingArchive(ctx context.Context, reading models.Reading) error {
	if err := s.primary.ReadingArchive(ctx, reading); err != nil {
		logging.Warn("reading archive write failed, buffering in redis", "truck_id", reading.TruckID, "error", err.Error())
		raw, marshalErr := json.Marshal(reading)
		if marshalErr != nil {
			return marshalErr
		}
		return s.buffer(ctx, archiveListKey, bufferedRecord{Kind: "reading", TruckID: reading.TruckID, Payload: raw, Timestamp: reading.Timestamp}, maxArchiveBuffer)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, truckID string) (*models.EKFState, *models.IdleKalmanState, bool, error) {
	return s.primary.LatestSnapshot(ctx, truckID)
}

func (s *Store) History(ctx context.Context, truckID string, since, until time.Time) ([]models.Reading, error) {
	return s.primary.History(ctx, truckID, since, until)
}

// buffer pushes a record onto a Redis list, trimming to maxLen if
// positive (archive records may be dropped oldest-first on overflow;
// maxLen < 0 means unbounded, used for the snapshot list since
// checkpoints are never dropped).
func (s *Store) buffer(ctx context.Context, key string, rec bufferedRecord, maxLen int) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	if maxLen > 0 {
		if err := s.rdb.LTrim(ctx, key, -int64(maxLen), -1).Err(); err != nil {
			return err
		}
	}
	return nil
}

// retryLoop periodically drains both buffers back into the primary
// adapter, oldest first, stopping at the first record that still fails.
func (s *Store) retryLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.flush(snapshotListKey)
		s.flush(archiveListKey)
	}
}

func (s *Store) flush(key string) {
	ctx := context.Background()
	for {
		data, err := s.rdb.LIndex(ctx, key, 0).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			logging.Error("redis buffer read failed", "key", key, "error", err.Error())
			return
		}

		var rec bufferedRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			logging.Error("corrupt buffered record, dropping", "key", key, "error", err.Error())
			s.rdb.LPop(ctx, key)
			continue
		}

		if err := s.replay(ctx, rec); err != nil {
			logging.Warn("buffered record still failing, will retry next cycle", "key", key, "error", err.Error())
			return
		}
		s.rdb.LPop(ctx, key)
	}
}

func (s *Store) replay(ctx context.Context, rec bufferedRecord) error {
	switch rec.Kind {
	case "snapshot":
		var snap struct {
			EKF  models.EKFState        `json:"ekf"`
			Idle models.IdleKalmanState `json:"idle"`
		}
		if err := json.Unmarshal(rec.Payload, &snap); err != nil {
			return err
		}
		return s.primary.EstimatorSnapshot(ctx, rec.TruckID, snap.EKF, snap.Idle, rec.Timestamp)
	case "reading":
		var reading models.Reading
		if err := json.Unmarshal(rec.Payload, &reading); err != nil {
			return err
		}
		return s.primary.ReadingArchive(ctx, reading)
	case "event":
		var payload interface{}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		return s.primary.Event(ctx, rec.Topic, rec.TruckID, payload, rec.Timestamp)
	default:
		return nil
	}
}
