package presale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gepspresale/core/events"
)

func newSale(specs []StageSpec, treasury common.Address) *Sale {
	sale := &Sale{
		Phase:      PhaseNotStarted,
		Stages:     make([]*Stage, len(specs)),
		Treasury:   treasury,
		TotalSold:  big.NewInt(0),
		TotalSwept: big.NewInt(0),
		Currencies: make(map[string]Currency),
	}
	for i, spec := range specs {
		sale.Stages[i] = &Stage{
			Index:      i,
			Price:      spec.Price,
			Allocation: copyInt(spec.Allocation),
			Available:  copyInt(spec.Allocation),
		}
	}
	return sale
}

// start activates the sale and fixes every stage window: stage i spans
// [now+i*duration, now+(i+1)*duration).
func (s *Sale) start(now, duration int64) {
	s.Phase = PhaseActive
	s.StartTime = now
	s.CurrentStage = 0
	for i, stage := range s.Stages {
		stage.StartTime = now + int64(i)*duration
		stage.EndTime = stage.StartTime + duration
	}
}

// Current returns the active stage.
func (s *Sale) Current() *Stage {
	if s == nil || len(s.Stages) == 0 {
		return nil
	}
	return s.Stages[s.CurrentStage]
}

// AdvanceIfNeeded moves the stage pointer forward while the current stage is
// expired or sold out. The pointer never passes the final stage; leaving the
// final stage ends the sale. The returned events describe every transition.
func (s *Sale) AdvanceIfNeeded(now int64) []events.Event {
	if s == nil || s.Phase != PhaseActive {
		return nil
	}
	var out []events.Event
	last := len(s.Stages) - 1
	for {
		stage := s.Stages[s.CurrentStage]
		soldOut := stage.Available.Sign() == 0
		expired := now >= stage.EndTime
		if !soldOut && !expired {
			return out
		}
		reason := events.StageReasonExpired
		if soldOut {
			reason = events.StageReasonSoldOut
		}
		if s.CurrentStage == last {
			s.Phase = PhaseEnded
			s.EndedAt = stage.EndTime
			if soldOut && now < stage.EndTime {
				s.EndedAt = now
			}
			out = append(out, events.PresaleEnded{
				Stage:     s.CurrentStage,
				EndedAt:   s.EndedAt,
				TotalSold: copyInt(s.TotalSold),
				Reason:    reason,
			})
			return out
		}
		out = append(out, events.PresaleStageAdvanced{
			From:   s.CurrentStage,
			To:     s.CurrentStage + 1,
			Reason: reason,
			At:     now,
		})
		s.CurrentStage++
	}
}

// Debit removes amount from the stage allocation and returns the new balance.
func (s *Sale) Debit(index int, amount *big.Int) (*big.Int, error) {
	if index < 0 || index >= len(s.Stages) {
		return nil, fmt.Errorf("%w: stage %d out of range", ErrInvalidSchedule, index)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	stage := s.Stages[index]
	if amount.Cmp(stage.Available) > 0 {
		return nil, fmt.Errorf("%w: requested %s, stage %d has %s", ErrInsufficientAllocation, amount, index, stage.Available)
	}
	stage.Available = new(big.Int).Sub(stage.Available, amount)
	return new(big.Int).Set(stage.Available), nil
}

// Unsold sums the remaining allocation across every stage.
func (s *Sale) Unsold() *big.Int {
	total := big.NewInt(0)
	if s == nil {
		return total
	}
	for _, stage := range s.Stages {
		total.Add(total, copyInt(stage.Available))
	}
	return total
}

// EndTime reports when the sale ended, or when it is scheduled to end while it
// is still running. It is zero before the sale starts.
func (s *Sale) EndTime() int64 {
	if s == nil || len(s.Stages) == 0 {
		return 0
	}
	switch s.Phase {
	case PhaseEnded:
		return s.EndedAt
	case PhaseActive:
		return s.Stages[len(s.Stages)-1].EndTime
	default:
		return 0
	}
}

func (s *Sale) clearAllocations() {
	for _, stage := range s.Stages {
		stage.Swept = new(big.Int).Add(copyInt(stage.Swept), copyInt(stage.Available))
		stage.Available = big.NewInt(0)
	}
}
