package coach

import (
	"time"

	"github.com/google/uuid"
)

// Phase represents one segment of a training plan
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWarmup
	PhaseWork
	PhaseRest
	PhaseCooldown
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWarmup:
		return "warmup"
	case PhaseWork:
		return "work"
	case PhaseRest:
		return "rest"
	case PhaseCooldown:
		return "cooldown"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Active reports whether the phase is part of a running workout.
func (p Phase) Active() bool {
	return p != PhaseIdle && p != PhaseComplete
}

// HeartRateZone defines a target effort band. "In zone" is the closed
// interval [MinBPM, MaxBPM]. Cadence and pace targets are optional; zero
// means unset.
type HeartRateZone struct {
	MinBPM    int
	MaxBPM    int
	TargetBPM int

	MinCadence int // SPM, 0 = no cadence target
	MaxCadence int

	TargetPace    float64 // sec/km, 0 = no pace target
	PaceTolerance float64 // sec/km
}

// Contains reports whether bpm falls inside the zone, boundaries included.
func (z HeartRateZone) Contains(bpm int) bool {
	return bpm >= z.MinBPM && bpm <= z.MaxBPM
}

func (z HeartRateZone) HasCadenceTarget() bool {
	return z.MinCadence > 0 && z.MaxCadence > 0
}

func (z HeartRateZone) HasPaceTarget() bool {
	return z.TargetPace > 0
}

// TrainingPlan describes one interval workout. Immutable once a session
// starts. Warm-up and cooldown are skipped when their duration is zero.
type TrainingPlan struct {
	ID               uuid.UUID
	Name             string
	SeriesCount      int
	WarmupDuration   time.Duration
	WorkDuration     time.Duration
	RestDuration     time.Duration
	CooldownDuration time.Duration
	WorkZone         HeartRateZone
	RestZone         HeartRateZone
	IsDefault        bool
}

// TotalDuration returns the planned wall-clock length of the workout.
func (p *TrainingPlan) TotalDuration() time.Duration {
	total := p.WarmupDuration + p.CooldownDuration
	total += time.Duration(p.SeriesCount) * (p.WorkDuration + p.RestDuration)
	return total
}

// ZoneForPhase maps a phase to the zone the athlete should hold during it.
// Everything that is not work effort uses the recovery zone.
func (p *TrainingPlan) ZoneForPhase(phase Phase) HeartRateZone {
	if phase == PhaseWork {
		return p.WorkZone
	}
	return p.RestZone
}

// DefaultPlans is the registry of built-in workouts. IDs are fixed so
// persisted sessions keep matching their plan across runs.
var DefaultPlans = []TrainingPlan{
	{
		ID:               uuid.MustParse("8c9f1a2e-5b3d-4c7a-9e1f-0a2b3c4d5e6f"),
		Name:             "4x3 Threshold Run",
		SeriesCount:      4,
		WarmupDuration:   5 * time.Minute,
		WorkDuration:     3 * time.Minute,
		RestDuration:     1 * time.Minute,
		CooldownDuration: 5 * time.Minute,
		WorkZone: HeartRateZone{
			MinBPM: 155, MaxBPM: 172, TargetBPM: 164,
			MinCadence: 170, MaxCadence: 190,
			TargetPace: 270, PaceTolerance: 15,
		},
		RestZone:  HeartRateZone{MinBPM: 110, MaxBPM: 140, TargetBPM: 125},
		IsDefault: true,
	},
	{
		ID:               uuid.MustParse("2d4e6f8a-1b3c-4d5e-8f9a-0b1c2d3e4f5a"),
		Name:             "6x2 VO2max Repeats",
		SeriesCount:      6,
		WarmupDuration:   10 * time.Minute,
		WorkDuration:     2 * time.Minute,
		RestDuration:     2 * time.Minute,
		CooldownDuration: 10 * time.Minute,
		WorkZone: HeartRateZone{
			MinBPM: 168, MaxBPM: 184, TargetBPM: 176,
			MinCadence: 175, MaxCadence: 200,
			TargetPace: 240, PaceTolerance: 10,
		},
		RestZone:  HeartRateZone{MinBPM: 100, MaxBPM: 135, TargetBPM: 120},
		IsDefault: true,
	},
	{
		ID:             uuid.MustParse("7a9b1c3d-5e7f-4a2b-9c4d-6e8f0a1b2c3d"),
		Name:           "8x1 Speed Strides",
		SeriesCount:    8,
		WarmupDuration: 8 * time.Minute,
		WorkDuration:   1 * time.Minute,
		RestDuration:   90 * time.Second,
		// No cooldown: the athlete jogs home on their own
		WorkZone: HeartRateZone{
			MinBPM: 172, MaxBPM: 188, TargetBPM: 180,
			MinCadence: 180, MaxCadence: 210,
		},
		RestZone:  HeartRateZone{MinBPM: 100, MaxBPM: 130, TargetBPM: 115},
		IsDefault: true,
	},
	{
		ID:          uuid.MustParse("4f6a8b0c-2d4e-4f6a-8b0c-2d4e6f8a0b1c"),
		Name:        "Easy Zone 2 - 40 Min",
		SeriesCount: 1,
		// A single long "work" block at easy effort, no warmup/rest/cooldown
		WorkDuration: 40 * time.Minute,
		WorkZone: HeartRateZone{
			MinBPM: 125, MaxBPM: 145, TargetBPM: 135,
			MinCadence: 160, MaxCadence: 180,
		},
		RestZone:  HeartRateZone{MinBPM: 100, MaxBPM: 130, TargetBPM: 115},
		IsDefault: true,
	},
}

// GetPlanByName returns a built-in plan by its display name.
func GetPlanByName(name string) (TrainingPlan, bool) {
	for _, p := range DefaultPlans {
		if p.Name == name {
			return p, true
		}
	}
	return TrainingPlan{}, false
}

// GetPlanByID returns a built-in plan by identity.
func GetPlanByID(id uuid.UUID) (TrainingPlan, bool) {
	for _, p := range DefaultPlans {
		if p.ID == id {
			return p, true
		}
	}
	return TrainingPlan{}, false
}
