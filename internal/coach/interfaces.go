package coach

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStore persists sessions. Implementations may block; callers run
// saves off the owner goroutine.
type SessionStore interface {
	Save(ctx context.Context, session *TrainingSession) error
	Fetch(ctx context.Context, id uuid.UUID) (*TrainingSession, error)
	FetchBest(ctx context.Context, planID uuid.UUID) (*TrainingSession, error)
	FetchRecent(ctx context.Context, limit int) ([]*TrainingSession, error)
	// FetchBestPacesPerBlock returns the fastest recorded pace per work-block
	// index across all sessions of a plan.
	FetchBestPacesPerBlock(ctx context.Context, planID uuid.UUID) (map[int]float64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AudioSink speaks to the athlete and drives the cadence metronome. All
// methods are fire-and-forget.
type AudioSink interface {
	AnnouncePhaseChange(phase Phase)
	AnnounceCoachingInstruction(status CoachingStatus)
	AnnounceTimeWarning(secondsRemaining int)
	StartMetronome(bpm int, volume float64)
	StopMetronome()
	UpdateMetronomeBPM(bpm int)
}

// AudioDucker lowers background music around an announcement. Idempotent when
// called back-to-back.
type AudioDucker interface {
	DuckForAnnouncement()
	RestoreFromDuck()
}

// HealthRecorder mirrors the workout into the platform's native health store.
type HealthRecorder interface {
	StartWorkout(activityType string) error
	PauseWorkout() error
	ResumeWorkout() error
	AddLapEvent(at time.Time) error
	EndWorkout() error
}

// MotionSample is one reading from the phone's step sensor.
type MotionSample struct {
	CadenceSPM          int
	TotalDistanceMeters float64
	At                  time.Time
}

// MotionSensor is the phone-native step-rate and distance feed. Availability
// must be checked before Start.
type MotionSensor interface {
	Available() bool
	Start(cb func(MotionSample)) error
	Stop()
}

// NoopHealthRecorder satisfies HealthRecorder for platforms with no native
// health store.
type NoopHealthRecorder struct{}

var _ HealthRecorder = NoopHealthRecorder{}

func (NoopHealthRecorder) StartWorkout(string) error   { return nil }
func (NoopHealthRecorder) PauseWorkout() error         { return nil }
func (NoopHealthRecorder) ResumeWorkout() error        { return nil }
func (NoopHealthRecorder) AddLapEvent(time.Time) error { return nil }
func (NoopHealthRecorder) EndWorkout() error           { return nil }

// NoopMotionSensor satisfies MotionSensor where the platform has no step
// sensor; it reports unavailable.
type NoopMotionSensor struct{}

var _ MotionSensor = NoopMotionSensor{}

func (NoopMotionSensor) Available() bool                 { return false }
func (NoopMotionSensor) Start(func(MotionSample)) error  { return nil }
func (NoopMotionSensor) Stop()                           {}
