// Package csvstore is the CSV-fallback persistence.Adapter, for
// deployments without a postgres instance available. It appends one row
// per record to three files, one per stream.
//
// Grounded on internal/common/export/export_service.go's CSV conversion
// paths (one writer method per record shape, header-then-rows structure),
// adapted from hand-built string concatenation to Go's encoding/csv
// writer, since convertToCSV there is a stopgap flagged in its own
// comments as "simplified... in a real implementation, you'd want to
// use ... a proper CSV library", and encoding/csv is the standard
// library's own answer to that gap rather than a third-party
// replacement.
package csvstore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	snapshotsFile = "estimator_snapshots.csv"
	eventsFile    = "events.csv"
	readingsFile  = "readings.csv"
)

// Store is a persistence.Adapter backed by append-only CSV files in a
// directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open ensures dir exists and returns a Store writing into it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) appendRow(filename string, header []string, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, filename)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
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
	return s.appendRow(snapshotsFile,
		[]string{"truck_id", "timestamp", "ekf_json", "idle_json"},
		[]string{truckID, ts.Format(time.RFC3339Nano), string(ekfJSON), string(idleJSON)})
}

func (s *Store) Event(ctx context.Context, topic string, truckID string, payload interface{}, ts time.Time) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.appendRow(eventsFile,
		[]string{"topic", "truck_id", "timestamp", "payload_json"},
		[]string{topic, truckID, ts.Format(time.RFC3339Nano), string(payloadJSON)})
}

func (s *Store) ReadingArchive(ctx context.Context, reading models.Reading) error {
	readingJSON, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	return s.appendRow(readingsFile,
		[]string{"truck_id", "timestamp", "reading_json"},
		[]string{reading.TruckID, reading.Timestamp.Format(time.RFC3339Nano), string(readingJSON)})
}

// LatestSnapshot scans the snapshot file for the truck's last row. CSV is
// the fallback store; a full scan on startup replay is an accepted cost
// for deployments that chose it over postgres.
func (s *Store) LatestSnapshot(ctx context.Context, truckID string) (*models.EKFState, *models.IdleKalmanState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, snapshotsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, false, err
	}

	var ekfJSON, idleJSON string
	found := false
	for i, row := range rows {
		if i == 0 || len(row) < 4 {
			continue
		}
		if row[0] != truckID {
			continue
		}
		ekfJSON, idleJSON = row[2], row[3]
		found = true
	}
	if !found {
		return nil, nil, false, nil
	}

	var ekf models.EKFState
	if err := json.Unmarshal([]byte(ekfJSON), &ekf); err != nil {
		return nil, nil, false, err
	}
	var idle models.IdleKalmanState
	if err := json.Unmarshal([]byte(idleJSON), &idle); err != nil {
		return nil, nil, false, err
	}
	return &ekf, &idle, true, nil
}

// History scans the readings file for rows within the window. Offered
// for interface completeness; operators who need fast history queries
// should use pgstore instead.
func (s *Store) History(ctx context.Context, truckID string, since, until time.Time) ([]models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, readingsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	var readings []models.Reading
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue
		}
		if row[0] != truckID {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil || ts.Before(since) || ts.After(until) {
			continue
		}
		var reading models.Reading
		if err := json.Unmarshal([]byte(row[2]), &reading); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, nil
}
