// File: database/repository/credit/memory.go
package creditRepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"servify/domain"
	"servify/models"
)

type memoryCreditRepo struct {
	mu       sync.Mutex
	balances map[string]models.CreditBalance
	ledger   []models.CreditTransaction
}

// NewMemoryCreditRepo constructs an in-memory CreditRepository.
func NewMemoryCreditRepo() CreditRepository {
	return &memoryCreditRepo{balances: make(map[string]models.CreditBalance)}
}

func (r *memoryCreditRepo) GetBalance(_ context.Context, customerID string) (*models.CreditBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[customerID]
	if !ok {
		return &models.CreditBalance{CustomerID: customerID}, nil
	}
	return &bal, nil
}

func (r *memoryCreditRepo) Adjust(_ context.Context, customerID string, availableDelta, heldDelta int64) (*models.CreditBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bal, ok := r.balances[customerID]
	if !ok {
		bal = models.CreditBalance{CustomerID: customerID}
	}
	if bal.Available+availableDelta < 0 || bal.Held+heldDelta < 0 {
		return nil, domain.ErrInsufficientCredit
	}
	bal.Available += availableDelta
	bal.Held += heldDelta
	bal.UpdatedAt = time.Now()
	r.balances[customerID] = bal
	out := bal
	return &out, nil
}

func (r *memoryCreditRepo) AppendTransaction(_ context.Context, tx *models.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, *tx)
	return nil
}

func (r *memoryCreditRepo) ListTransactions(_ context.Context, customerID string) ([]models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.CreditTransaction
	for _, tx := range r.ledger {
		if tx.CustomerID == customerID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
