package health

import (
	"sort"
	"time"

	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/tools/timeparser"
)

// Weights sets how much each diagnostic contributes to a device score
type Weights struct {
	Disconnect int64
	// Unreachable is applied once per full block of UnreachableBlock minutes
	Unreachable      int64
	UnreachableBlock int64
	Stale            int64
	BatteryLow       int64
}

// DefaultWeights returns the dashboard weighting
func DefaultWeights() Weights {
	return Weights{
		Disconnect:       3,
		Unreachable:      2,
		UnreachableBlock: 10,
		Stale:            2,
		BatteryLow:       2,
	}
}

// Report is a scored device, higher scores need more attention
type Report struct {
	ResourceID         string     `json:"rid"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Disconnects        int64      `json:"disconnects"`
	MinutesUnreachable int64      `json:"minutes_unreachable"`
	LastSeen           *time.Time `json:"last_seen_ts"`
	BatteryLow         bool       `json:"battery_low"`
	Stale              bool       `json:"stale"`
	AgeHours           *float64   `json:"age_hours"`
	Score              int64      `json:"score"`
}

// Scorer ranks aggregated device diagnostics with configurable weights
type Scorer struct {
	weights    Weights
	staleAfter time.Duration
}

// NewScorer creates a new scorer; a device is stale once its last sighting is older than staleAfter
func NewScorer(weights Weights, staleAfter time.Duration) *Scorer {
	if weights.UnreachableBlock <= 0 {
		weights.UnreachableBlock = 1
	}
	return &Scorer{
		weights:    weights,
		staleAfter: staleAfter,
	}
}

// Score evaluates one device at now
func (s *Scorer) Score(h db.DeviceHealth, now time.Time) Report {
	r := Report{
		ResourceID:         h.ResourceID,
		Name:               h.Name,
		Type:               h.Type,
		Disconnects:        h.Disconnects,
		MinutesUnreachable: h.MinutesUnreachable,
		LastSeen:           h.LastSeen,
		BatteryLow:         h.BatteryLow,
	}

	// A device never seen in the range has no age and is not stale
	if h.LastSeen != nil {
		age := now.Sub(*h.LastSeen).Hours()
		r.AgeHours = &age
		r.Stale = timeparser.IsOlderThan(*h.LastSeen, now, s.staleAfter)
	}

	r.Score = s.weights.Disconnect*h.Disconnects +
		s.weights.Unreachable*(h.MinutesUnreachable/s.weights.UnreachableBlock)
	if r.Stale {
		r.Score += s.weights.Stale
	}
	if r.BatteryLow {
		r.Score += s.weights.BatteryLow
	}

	return r
}

// Rank scores every device and sorts by descending score, ties by resource id
func (s *Scorer) Rank(devices []db.DeviceHealth, now time.Time) []Report {
	reports := make([]Report, 0, len(devices))
	for _, d := range devices {
		reports = append(reports, s.Score(d, now))
	}

	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Score != reports[j].Score {
			return reports[i].Score > reports[j].Score
		}
		return reports[i].ResourceID < reports[j].ResourceID
	})
	return reports
}
