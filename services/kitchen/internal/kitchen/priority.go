package kitchen

import (
	"time"

	"github.com/appetiteclub/expo/pkg/enums/priority"
)

type PriorityLevel = priority.Level

// PriorityCalculator derives waiting time and urgency level at read time.
// Nothing it computes is ever stored.
type PriorityCalculator struct {
	warn     time.Duration
	critical time.Duration
	clock    Clock
}

func NewPriorityCalculator(warn, critical time.Duration, clock Clock) *PriorityCalculator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PriorityCalculator{warn: warn, critical: critical, clock: clock}
}

// WaitingMinutes returns whole minutes elapsed since createdAt. Future
// timestamps (clock skew from the order system) count as zero.
func (p *PriorityCalculator) WaitingMinutes(createdAt time.Time) int {
	elapsed := p.clock.Now().Sub(createdAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Minute)
}

// Level classifies a waiting time in minutes.
func (p *PriorityCalculator) Level(waitingMinutes int) PriorityLevel {
	waited := time.Duration(waitingMinutes) * time.Minute
	switch {
	case waited >= p.critical:
		return priority.Levels.Critical
	case waited >= p.warn:
		return priority.Levels.Warning
	default:
		return priority.Levels.Normal
	}
}

// Evaluate returns both the waiting minutes and the level for createdAt.
func (p *PriorityCalculator) Evaluate(createdAt time.Time) (int, PriorityLevel) {
	minutes := p.WaitingMinutes(createdAt)
	return minutes, p.Level(minutes)
}
