// Package directory is the read-only port to the identity/profile store. The
// booking core fetches a provider's policy once per operation and never
// writes back.
package directory

import (
	"context"
	"time"

	"servify/config"
	"servify/models"
)

// ProviderDirectory resolves provider booking policies.
type ProviderDirectory interface {
	PolicyFor(ctx context.Context, providerID string) (*models.ProviderPolicy, error)
}

// ConfigDirectory serves the configured default policy for every provider.
// Deployments with a real profile service swap in an implementation backed by
// that service; the core only sees the interface.
type ConfigDirectory struct{}

func NewConfigDirectory() *ConfigDirectory {
	return &ConfigDirectory{}
}

func (d *ConfigDirectory) PolicyFor(_ context.Context, providerID string) (*models.ProviderPolicy, error) {
	cfg := config.AppConfig
	hours := make([]models.WorkingHours, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		hours = append(hours, models.WorkingHours{
			Weekday:     wd,
			StartMinute: cfg.WorkdayStartMinute,
			EndMinute:   cfg.WorkdayEndMinute,
		})
	}
	return &models.ProviderPolicy{
		ProviderID:   providerID,
		Hours:        hours,
		MinNotice:    cfg.MinNotice(),
		CancelCutoff: cfg.CancelCutoff(),
		PenaltyRate:  cfg.CancelPenaltyRate,
	}, nil
}

// StaticDirectory returns a fixed policy map; used by tests and seed tooling.
type StaticDirectory struct {
	Policies map[string]models.ProviderPolicy
	Fallback *models.ProviderPolicy
}

func (d *StaticDirectory) PolicyFor(_ context.Context, providerID string) (*models.ProviderPolicy, error) {
	if p, ok := d.Policies[providerID]; ok {
		return &p, nil
	}
	if d.Fallback != nil {
		p := *d.Fallback
		p.ProviderID = providerID
		return &p, nil
	}
	return &models.ProviderPolicy{ProviderID: providerID}, nil
}
