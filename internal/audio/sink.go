// Package audio provides the spoken-feedback sink. This implementation logs
// what would be spoken; a platform build replaces it with real TTS behind the
// same interfaces.
package audio

import (
	"fmt"
	"log"
	"sync"

	"github.com/jonbondani/interval-pro-sub001/internal/coach"
)

// Sink implements coach.AudioSink and coach.AudioDucker over the process
// logger. Metronome state is tracked so the UI can display it.
type Sink struct {
	logger *log.Logger

	mu           sync.Mutex
	metronomeOn  bool
	metronomeBPM int
	ducked       bool
}

var _ coach.AudioSink = (*Sink)(nil)
var _ coach.AudioDucker = (*Sink)(nil)

func NewSink(logger *log.Logger) *Sink {
	if logger == nil {
		panic("Sink: logger cannot be nil")
	}
	return &Sink{logger: logger}
}

func (s *Sink) AnnouncePhaseChange(phase coach.Phase) {
	s.logger.Printf("Audio: \"%s\"", phraseForPhase(phase))
}

func (s *Sink) AnnounceCoachingInstruction(status coach.CoachingStatus) {
	s.logger.Printf("Audio: \"%s\"", phraseForInstruction(status))
}

func (s *Sink) AnnounceTimeWarning(secondsRemaining int) {
	s.logger.Printf("Audio: \"%d seconds\"", secondsRemaining)
}

func (s *Sink) StartMetronome(bpm int, volume float64) {
	s.mu.Lock()
	s.metronomeOn = true
	s.metronomeBPM = bpm
	s.mu.Unlock()
	s.logger.Printf("Audio: metronome started at %d BPM (volume %.1f)", bpm, volume)
}

func (s *Sink) StopMetronome() {
	s.mu.Lock()
	wasOn := s.metronomeOn
	s.metronomeOn = false
	s.mu.Unlock()
	if wasOn {
		s.logger.Printf("Audio: metronome stopped")
	}
}

func (s *Sink) UpdateMetronomeBPM(bpm int) {
	s.mu.Lock()
	s.metronomeBPM = bpm
	on := s.metronomeOn
	s.mu.Unlock()
	if on {
		s.logger.Printf("Audio: metronome now %d BPM", bpm)
	}
}

// MetronomeState reports the current metronome setting for display.
func (s *Sink) MetronomeState() (on bool, bpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metronomeOn, s.metronomeBPM
}

// DuckForAnnouncement lowers background audio. Idempotent.
func (s *Sink) DuckForAnnouncement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ducked {
		return
	}
	s.ducked = true
}

// RestoreFromDuck raises background audio back. Idempotent.
func (s *Sink) RestoreFromDuck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ducked {
		return
	}
	s.ducked = false
}

func phraseForPhase(phase coach.Phase) string {
	switch phase {
	case coach.PhaseWarmup:
		return "Warm up. Easy pace."
	case coach.PhaseWork:
		return "Work interval. Go!"
	case coach.PhaseRest:
		return "Rest. Recover."
	case coach.PhaseCooldown:
		return "Cool down. Well done."
	case coach.PhaseComplete:
		return "Workout complete!"
	default:
		return phase.String()
	}
}

func phraseForInstruction(status coach.CoachingStatus) string {
	switch status.Kind {
	case coach.CoachRecordPace:
		return "New record pace. Keep it up!"
	case coach.CoachSpeedUpCadence:
		return fmt.Sprintf("Quicken your steps by %d per minute", int(-status.Delta))
	case coach.CoachSlowDownCadence:
		return fmt.Sprintf("Ease your steps by %d per minute", int(status.Delta))
	case coach.CoachSpeedUpPace:
		return fmt.Sprintf("Pick up the pace by %d seconds per kilometer", int(status.Delta))
	case coach.CoachSlowDownPace:
		return fmt.Sprintf("Back off the pace by %d seconds per kilometer", int(-status.Delta))
	case coach.CoachMaintainPace:
		return "Good rhythm. Hold this pace."
	default:
		return status.String()
	}
}
