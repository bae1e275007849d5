package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/parley/pkg/models"
)

// ErrBudgetExceeded is returned when a provider has spent its budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// CostSource reports estimated spend. *ledger.SQLiteLedger satisfies it.
type CostSource interface {
	TotalCost(ctx context.Context, providerID string, since time.Time) (float64, error)
}

// Enforcer checks estimated spend against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	costs    CostSource
	now      func() time.Time
}

// New creates an Enforcer with the given policies and cost source.
func New(policies []models.BudgetPolicy, costs CostSource) *Enforcer {
	return &Enforcer{policies: policies, costs: costs, now: time.Now}
}

// Check returns ErrBudgetExceeded if providerID has reached any applicable
// policy. A "*" policy caps the combined spend of all providers.
func (e *Enforcer) Check(ctx context.Context, providerID string) error {
	for _, p := range e.applicablePolicies(providerID) {
		spent, err := e.spent(ctx, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if spent >= p.MaxCostUSD {
			return fmt.Errorf("%w: %s %s limit $%.2f reached", ErrBudgetExceeded, p.Provider, period(p), p.MaxCostUSD)
		}
	}
	return nil
}

// Status returns spend against every policy applying to providerID, or
// against all policies when providerID is empty.
func (e *Enforcer) Status(ctx context.Context, providerID string) ([]models.BudgetStatus, error) {
	policies := e.policies
	if providerID != "" {
		policies = e.applicablePolicies(providerID)
	}
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		spent, err := e.spent(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxCostUSD - spent
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Spent:     spent,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) spent(ctx context.Context, p models.BudgetPolicy) (float64, error) {
	return e.costs.TotalCost(ctx, p.Provider, periodStart(period(p), e.now()))
}

func (e *Enforcer) applicablePolicies(providerID string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Provider == "*" || p.Provider == providerID {
			result = append(result, p)
		}
	}
	return result
}

func period(p models.BudgetPolicy) models.BudgetPeriod {
	if p.Period == "" {
		return models.BudgetDaily
	}
	return p.Period
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
