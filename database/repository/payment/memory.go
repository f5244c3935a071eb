// File: database/repository/payment/memory.go
package paymentRepo

import (
	"context"
	"sync"
	"time"

	"servify/domain"
	"servify/models"
)

type memoryPaymentRepo struct {
	mu    sync.Mutex
	plans map[string]models.PaymentPlan
}

// NewMemoryPaymentRepo constructs an in-memory PaymentRepository.
func NewMemoryPaymentRepo() PaymentRepository {
	return &memoryPaymentRepo{plans: make(map[string]models.PaymentPlan)}
}

func (r *memoryPaymentRepo) CreatePlan(_ context.Context, plan *models.PaymentPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (r *memoryPaymentRepo) GetPlanByID(_ context.Context, id string) (*models.PaymentPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := clonePlan(p)
	return &out, nil
}

func (r *memoryPaymentRepo) GetPlanByBookingID(_ context.Context, bookingID string) (*models.PaymentPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plans {
		if p.BookingID == bookingID {
			out := clonePlan(p)
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryPaymentRepo) UpdatePlan(_ context.Context, plan *models.PaymentPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.plans[plan.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != plan.Version {
		return domain.ErrStaleState
	}
	plan.Version++
	r.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (r *memoryPaymentRepo) FlipObligation(_ context.Context, planID string, seq int, from string, o models.PaymentObligation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[planID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range p.Obligations {
		if p.Obligations[i].Seq == seq && p.Obligations[i].Status == from {
			p.Obligations[i] = o
			p.Version++
			p.UpdatedAt = time.Now()
			r.plans[planID] = p
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memoryPaymentRepo) ListDue(_ context.Context, now time.Time) ([]models.DueObligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []models.DueObligation
	for _, p := range r.plans {
		if p.Voided {
			continue
		}
		for _, o := range p.Obligations {
			if o.Status == models.ObligationPending && !now.Before(o.DueAt) {
				due = append(due, models.DueObligation{PlanID: p.ID, BookingID: p.BookingID, Seq: o.Seq})
			}
		}
	}
	return due, nil
}

func (r *memoryPaymentRepo) ListFailedBefore(_ context.Context, cutoff time.Time) ([]models.DueObligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.DueObligation
	for _, p := range r.plans {
		if p.Voided {
			continue
		}
		for _, o := range p.Obligations {
			if o.Status == models.ObligationFailed && !cutoff.Before(o.DueAt) {
				out = append(out, models.DueObligation{PlanID: p.ID, BookingID: p.BookingID, Seq: o.Seq})
			}
		}
	}
	return out, nil
}

func clonePlan(p models.PaymentPlan) models.PaymentPlan {
	obligations := make([]models.PaymentObligation, len(p.Obligations))
	copy(obligations, p.Obligations)
	p.Obligations = obligations
	return p
}
