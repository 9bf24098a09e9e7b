package frames

import (
	"fmt"
	"sync"

	"github.com/tatianab/storyframe/internal/apperrors"
)

const costEpsilon = 1e-9

// Meter is a per-session spending counter for metered generator calls.
// Reserve holds budget before a call; Commit or Release settles the hold.
type Meter struct {
	mu      sync.Mutex
	ceiling float64
	spent   float64
	held    float64
}

// NewMeter creates a meter with the given ceiling and already-spent amount.
// A ceiling of zero or less disables metering.
func NewMeter(ceiling, spent float64) *Meter {
	return &Meter{ceiling: ceiling, spent: spent}
}

// Reservation is budget held for one call.
type Reservation struct {
	meter *Meter
	cost  float64
	once  sync.Once
}

// Reserve holds cost if spent plus outstanding holds plus cost stays within
// the ceiling. Otherwise it returns an ErrBudgetExceeded error.
func (m *Meter) Reserve(cost float64) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ceiling > 0 && m.spent+m.held+cost > m.ceiling+costEpsilon {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeBudgetExceeded, "reserve generator budget",
			map[string]string{
				"spent":   fmt.Sprintf("%.2f", m.spent),
				"ceiling": fmt.Sprintf("%.2f", m.ceiling),
			}, fmt.Errorf("cost %.2f does not fit", cost))
	}
	m.held += cost
	return &Reservation{meter: m, cost: cost}, nil
}

// Commit moves the held cost into the spent total. Call it as soon as the
// metered call succeeds. Only the first Commit or Release has effect.
func (r *Reservation) Commit() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.meter.mu.Lock()
		defer r.meter.mu.Unlock()
		r.meter.held -= r.cost
		r.meter.spent += r.cost
	})
}

// Release drops the hold without spending.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.meter.mu.Lock()
		defer r.meter.mu.Unlock()
		r.meter.held -= r.cost
	})
}

// Cost returns the reserved amount.
func (r *Reservation) Cost() float64 {
	if r == nil {
		return 0
	}
	return r.cost
}

// Spent returns the committed total.
func (m *Meter) Spent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent
}

// Ceiling returns the configured ceiling.
func (m *Meter) Ceiling() float64 {
	return m.ceiling
}
