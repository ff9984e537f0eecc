package coach

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
)

// Simulator feeds the fusion stage with synthetic telemetry so the program
// works without a peripheral. Heart rate tracks the active phase's target
// zone with a small sine wobble, cadence sits near the work target, and
// distance grows from the derived running speed.
type Simulator struct {
	logger *log.Logger
	fusion *DataFusion
	timer  *PhaseTimer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSimulator(fusion *DataFusion, timer *PhaseTimer, logger *log.Logger) *Simulator {
	if fusion == nil {
		panic("Simulator: fusion cannot be nil")
	}
	if timer == nil {
		panic("Simulator: timer cannot be nil")
	}
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	return &Simulator{
		logger: logger,
		fusion: fusion,
		timer:  timer,
	}
}

// Start begins emitting telemetry once per second until Stop.
func (s *Simulator) Start(plan *TrainingPlan) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		s.run(ctx, plan)
	})
	s.logger.Println("Simulator: started")
}

func (s *Simulator) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.logger.Println("Simulator: stopped")
	})
}

func (s *Simulator) run(ctx context.Context, plan *TrainingPlan) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var (
		tick          int
		currentBPM    float64 = 80
		totalDistance float64
	)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick++
			phase := s.timer.Phase()
			zone := plan.ZoneForPhase(phase)

			target := float64(zone.TargetBPM)
			if target == 0 {
				target = 110
			}
			// Drift toward the phase target, never jump
			currentBPM += (target - currentBPM) * 0.15
			wobble := 3 * math.Sin(float64(tick)/7)
			bpm := int(math.Round(currentBPM + wobble))
			s.fusion.ObserveHeartRate(SampleSourceSimulated, bpm, now)

			cadence := 150
			if zone.HasCadenceTarget() {
				cadence = (zone.MinCadence + zone.MaxCadence) / 2
			}
			if phase == PhaseWork {
				cadence += int(2 * math.Sin(float64(tick)/5))
			}
			s.fusion.ObserveCadence(SampleSourceSimulated, cadence, now)

			speed := 2.5 // m/s, easy jog
			if phase == PhaseWork && zone.HasPaceTarget() {
				speed = 1000 / zone.TargetPace
			}
			totalDistance += speed
			s.fusion.ObserveDistance(totalDistance, now)
		}
	}
}
