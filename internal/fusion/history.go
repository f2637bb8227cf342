package fusion

import (
	"time"

	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// channelRules is the per-channel range and rate-of-change validation
// contract consulted by Engine.AddReading.
type channelRules struct {
	MinValue        float64
	MaxValue        float64
	MaxRateOfChange float64 // per minute
	HistoryWindow   int
}

var defaultRules = map[models.SensorChannel]channelRules{
	models.ChannelFuelLevel: {MinValue: 0, MaxValue: 100, MaxRateOfChange: 2.0, HistoryWindow: 20},
	models.ChannelECUUsed:   {MinValue: 0, MaxValue: 1e9, MaxRateOfChange: 5.0, HistoryWindow: 20},
	models.ChannelECURate:   {MinValue: 0, MaxValue: 50, MaxRateOfChange: 10.0, HistoryWindow: 20},
}

// appendBounded pushes a reading onto a channel's ring buffer, evicting the
// oldest entry once the configured history window is exceeded.
func appendBounded(history *models.FusionHistory, channel models.SensorChannel, r models.SensorReading, window int) {
	buf := history.Channels[channel]
	buf = append(buf, r)
	if len(buf) > window {
		buf = buf[len(buf)-window:]
	}
	history.Channels[channel] = buf
}

// lastValid returns the valid readings among a channel's n most recent
// readings (so possibly fewer than n), in chronological order.
func lastValid(history *models.FusionHistory, channel models.SensorChannel, n int) []models.SensorReading {
	buf := history.Channels[channel]
	start := 0
	if len(buf) > n {
		start = len(buf) - n
	}
	window := buf[start:]

	out := make([]models.SensorReading, 0, len(window))
	for _, r := range window {
		if r.IsValid {
			out = append(out, r)
		}
	}
	return out
}

func minutesBetween(a, b time.Time) float64 {
	return b.Sub(a).Minutes()
}
