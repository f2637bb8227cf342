package services

import (
	"sync"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const driverHistoryWindow = 50

// DriverFleetSummary is a driver's running reputation across sessions.
type DriverFleetSummary struct {
	DriverID       string   `json:"driver_id"`
	SessionCount   int      `json:"session_count"`
	AverageStars   float64  `json:"average_stars"`
	RecentScores   []models.DriverScores `json:"recent_scores"`
}

// DriverBehaviorService is a downstream consumer of already-scored
// DriverSessionEndEvent payloads: the per-session efficiency,
// aggressiveness, and safety scores are computed once, in
// internal/driverscore, by the coordinator that closed the session. This
// service only aggregates those finished scores across sessions for
// fleet-wide reporting; it never rescores a session itself, which would
// give the fleet two disagreeing sources of truth for the same number.
type DriverBehaviorService struct {
	mu      sync.RWMutex
	drivers map[string]*DriverFleetSummary
}

// NewDriverBehaviorService subscribes to DriverSessionEnd and returns the
// running service.
func NewDriverBehaviorService(bus *eventbus.Bus) *DriverBehaviorService {
	s := &DriverBehaviorService{drivers: make(map[string]*DriverFleetSummary)}
	bus.Subscribe(eventbus.TopicDriverSessionEnd, "driver-behavior-service", s.handleSessionEnd)
	return s
}

func (s *DriverBehaviorService) handleSessionEnd(e eventbus.Event) {
	evt, ok := e.Payload.(models.DriverSessionEndEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary, exists := s.drivers[evt.DriverID]
	if !exists {
		summary = &DriverFleetSummary{DriverID: evt.DriverID}
		s.drivers[evt.DriverID] = summary
	}

	summary.SessionCount++
	summary.RecentScores = append(summary.RecentScores, evt.Scores)
	if len(summary.RecentScores) > driverHistoryWindow {
		summary.RecentScores = summary.RecentScores[len(summary.RecentScores)-driverHistoryWindow:]
	}

	var total float64
	for _, sc := range summary.RecentScores {
		total += float64(sc.Stars)
	}
	summary.AverageStars = total / float64(len(summary.RecentScores))
}

// Summary returns a driver's current fleet-wide reputation summary, if
// any session has closed for them.
func (s *DriverBehaviorService) Summary(driverID string) (DriverFleetSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.drivers[driverID]
	if !ok {
		return DriverFleetSummary{}, false
	}
	return *summary, true
}
