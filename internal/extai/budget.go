package extai

import (
	"fmt"
	"sync"
	"time"
)

// BudgetExceededError reports a request that would overrun a budget.
type BudgetExceededError struct {
	Scope     string // "mission" or "daily"
	LimitUSD  float64
	SpentUSD  float64
	CostUSD   float64
	MissionID string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: spent %.4f + cost %.4f > limit %.4f USD",
		e.Scope, e.SpentUSD, e.CostUSD, e.LimitUSD)
}

func (e *BudgetExceededError) Unwrap() error { return ErrPolicyViolation }

// Budget tracks external AI spend per mission and per UTC day.
// A zero limit means unlimited for that scope. Safe for concurrent use.
type Budget struct {
	mu sync.Mutex

	missionLimitUSD float64
	dailyLimitUSD   float64
	clock           Clock

	missionSpend map[string]float64
	day          string
	daySpend     float64
}

// NewBudget creates a budget tracker.
func NewBudget(missionLimitUSD, dailyLimitUSD float64, clock Clock) *Budget {
	if clock == nil {
		clock = SystemClock()
	}
	return &Budget{
		missionLimitUSD: missionLimitUSD,
		dailyLimitUSD:   dailyLimitUSD,
		clock:           clock,
		missionSpend:    make(map[string]float64),
	}
}

// Reserve checks that costUSD fits both budgets and reserves it atomically.
// The check and the reservation happen under one lock so concurrent requests
// cannot jointly overrun a limit.
func (b *Budget) Reserve(missionID string, costUSD float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollDayLocked()

	if b.missionLimitUSD > 0 {
		spent := b.missionSpend[missionID]
		if spent+costUSD > b.missionLimitUSD {
			return &BudgetExceededError{
				Scope:     "mission",
				LimitUSD:  b.missionLimitUSD,
				SpentUSD:  spent,
				CostUSD:   costUSD,
				MissionID: missionID,
			}
		}
	}
	if b.dailyLimitUSD > 0 {
		if b.daySpend+costUSD > b.dailyLimitUSD {
			return &BudgetExceededError{
				Scope:    "daily",
				LimitUSD: b.dailyLimitUSD,
				SpentUSD: b.daySpend,
				CostUSD:  costUSD,
			}
		}
	}

	b.missionSpend[missionID] += costUSD
	b.daySpend += costUSD
	return nil
}

// Adjust corrects a reservation once the actual cost is known.
// delta is actual minus reserved and may be negative.
func (b *Budget) Adjust(missionID string, delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollDayLocked()
	b.missionSpend[missionID] += delta
	if b.missionSpend[missionID] < 0 {
		b.missionSpend[missionID] = 0
	}
	b.daySpend += delta
	if b.daySpend < 0 {
		b.daySpend = 0
	}
}

// MissionSpend returns the spend recorded for a mission.
func (b *Budget) MissionSpend(missionID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.missionSpend[missionID]
}

// DaySpend returns the spend recorded for the current UTC day.
func (b *Budget) DaySpend() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	return b.daySpend
}

// rollDayLocked resets the daily counter when the UTC day changes.
func (b *Budget) rollDayLocked() {
	day := b.clock.Now().UTC().Format(time.DateOnly)
	if day != b.day {
		b.day = day
		b.daySpend = 0
	}
}
