package usecase

import (
	"sync"
	"time"

	"genesis-ngx/internal/domain"
)

// DailyLedger is the rolling daily spend counter shared by every turn.
// The day rolls over lazily on the first call after UTC midnight; Reset
// also exists so a scheduler can force the rollover on the dot.
//
// Updates are serialized: the ledger is the one piece of process-wide
// mutable budget state and must be safe under concurrent turns.
type DailyLedger struct {
	mu      sync.Mutex
	capUSD  float64
	spent   float64
	day     string // UTC date the counter belongs to, e.g. "2026-08-31"
	nowFunc func() time.Time
}

// NewDailyLedger creates a ledger with the given daily USD ceiling.
func NewDailyLedger(capUSD float64) *DailyLedger {
	return &DailyLedger{capUSD: capUSD, nowFunc: time.Now}
}

// Spend records cost against today's budget. It returns ErrBudgetExceeded
// without recording anything when the ceiling would be crossed: rejection,
// never silent discounting.
func (l *DailyLedger) Spend(costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()
	if l.spent+costUSD > l.capUSD {
		return domain.NewDomainError("DailyLedger.Spend", domain.ErrBudgetExceeded, "daily ceiling reached")
	}
	l.spent += costUSD
	return nil
}

// Remaining returns the USD budget left for the current UTC day.
func (l *DailyLedger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()
	if rem := l.capUSD - l.spent; rem > 0 {
		return rem
	}
	return 0
}

// Spent returns today's accumulated spend.
func (l *DailyLedger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()
	return l.spent
}

// Reset zeroes the counter for a fresh day. Called by the UTC-midnight
// scheduler job; safe to call at any time.
func (l *DailyLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.spent = 0
	l.day = l.today()
}

// rollover zeroes the counter when the UTC day has changed. Caller holds mu.
func (l *DailyLedger) rollover() {
	if today := l.today(); today != l.day {
		l.day = today
		l.spent = 0
	}
}

func (l *DailyLedger) today() string {
	return l.nowFunc().UTC().Format("2006-01-02")
}
