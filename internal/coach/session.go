package coach

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
)

// SampleSource tags where a heart-rate or cadence value came from.
type SampleSource string

const (
	SampleSourcePeripheral SampleSource = "peripheral"
	SampleSourceHealth     SampleSource = "health"
	SampleSourceMotion     SampleSource = "motion"
	SampleSourceSimulated  SampleSource = "simulated"
)

// HRSample is one timestamped heart-rate observation. Append-only.
type HRSample struct {
	At     time.Time    `json:"at"`
	BPM    int          `json:"bpm"`
	Source SampleSource `json:"source"`
}

// IntervalRecord captures one phase of a session. Exactly one record is open
// at a time; finalizing stamps the duration and derived stats and freezes it.
type IntervalRecord struct {
	Phase       Phase         `json:"phase"`
	Series      int           `json:"series"` // 1-based
	Block       int           `json:"block"`  // 1-based position within the series, 0 = legacy/untagged
	StartOffset time.Duration `json:"start_offset"`
	Duration    time.Duration `json:"duration"`
	AvgHR       int           `json:"avg_hr"`
	MaxHR       int           `json:"max_hr"`
	MinHR       int           `json:"min_hr"`
	TimeInZone  time.Duration `json:"time_in_zone"`
	AvgPace     float64       `json:"avg_pace"` // sec/km, 0 = no pace data
	Samples     []HRSample    `json:"samples"`

	finalized bool
}

// Finalized reports whether the record has been closed.
func (r *IntervalRecord) Finalized() bool { return r.finalized }

// finalize stamps the duration and per-interval aggregates. A finalized
// record is never edited again.
func (r *IntervalRecord) finalize(duration, timeInZone time.Duration, avgPace float64) {
	if r.finalized {
		return
	}
	r.Duration = duration
	r.TimeInZone = timeInZone
	r.AvgPace = avgPace

	if len(r.Samples) > 0 {
		sum := 0
		r.MinHR = r.Samples[0].BPM
		r.MaxHR = r.Samples[0].BPM
		for _, s := range r.Samples {
			sum += s.BPM
			if s.BPM > r.MaxHR {
				r.MaxHR = s.BPM
			}
			if s.BPM < r.MinHR {
				r.MinHR = s.BPM
			}
		}
		r.AvgHR = sum / len(r.Samples)
	}
	r.finalized = true
}

// TrainingSession is the full recorded outcome of one workout. The session
// recorder is its sole mutator; past intervals are append-only.
type TrainingSession struct {
	ID                  uuid.UUID        `json:"id"`
	PlanID              uuid.UUID        `json:"plan_id"`
	PlanName            string           `json:"plan_name"`
	StartedAt           time.Time        `json:"started_at"`
	EndedAt             time.Time        `json:"ended_at"`
	Completed           bool             `json:"completed"`
	Intervals           []IntervalRecord `json:"intervals"`
	TotalDistanceMeters float64          `json:"total_distance_meters"`
	AvgHR               int              `json:"avg_hr"`
	MaxHR               int              `json:"max_hr"`
	MinHR               int              `json:"min_hr"`
	TimeInZone          time.Duration    `json:"time_in_zone"`
	StepCount           int              `json:"step_count"`
	Score               float64          `json:"score"`
}

// Duration returns the recorded wall-clock length of the session.
func (s *TrainingSession) Duration() time.Duration {
	if s.EndedAt.IsZero() || s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// CompletedWorkIntervals counts finalized work-phase records, the unit the
// completion rate is measured in.
func (s *TrainingSession) CompletedWorkIntervals() int {
	n := 0
	for i := range s.Intervals {
		if s.Intervals[i].Phase == PhaseWork && s.Intervals[i].Duration > 0 {
			n++
		}
	}
	return n
}

// AvgPace returns the duration-weighted average pace over intervals that
// carried pace data, 0 when none did.
func (s *TrainingSession) AvgPace() float64 {
	var weighted float64
	var total time.Duration
	for i := range s.Intervals {
		r := &s.Intervals[i]
		if r.AvgPace > 0 && r.Duration > 0 {
			weighted += r.AvgPace * r.Duration.Seconds()
			total += r.Duration
		}
	}
	if total == 0 {
		return 0
	}
	return weighted / total.Seconds()
}

// ComputeScore derives the composite 0-100 session quality metric. A session
// with no recorded duration scores 0 outright.
func ComputeScore(s *TrainingSession, plannedSeries int, cfg config.Scoring) float64 {
	duration := s.Duration()
	if duration <= 0 {
		return 0
	}

	zonePct := 100 * s.TimeInZone.Seconds() / duration.Seconds()
	if zonePct > 100 {
		zonePct = 100
	}

	var completionRate float64
	if plannedSeries > 0 {
		completionRate = 100 * float64(s.CompletedWorkIntervals()) / float64(plannedSeries)
		if completionRate > 100 {
			completionRate = 100
		}
	}

	paceScore := cfg.NeutralPaceScore
	if avgPace := s.AvgPace(); avgPace > 0 {
		paceScore = (cfg.PaceBaseline - avgPace) / cfg.PaceDivisor
		if paceScore < 0 {
			paceScore = 0
		} else if paceScore > 100 {
			paceScore = 100
		}
	}

	distanceScore := 100 * s.TotalDistanceMeters / (duration.Seconds() * cfg.ReferenceSpeed)
	if distanceScore > 100 {
		distanceScore = 100
	}

	score := cfg.ZoneWeight*zonePct +
		cfg.PaceWeight*paceScore +
		cfg.CompletionWeight*completionRate +
		cfg.DistanceWeight*distanceScore

	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	return score
}
