package disbursement

import (
	"context"
	"fmt"

	"github.com/aralacademy/backend/internal/models"
)

// Status is the rail-side state of a disbursement
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Provider disburses a payout over an external payment rail.
//
// Disburse submits the payment and returns the rail's reference; acceptance
// does not mean the money moved, final state comes from CheckStatus or the
// rail's webhook. A timeout is an unknown outcome and must surface as
// ledger.ErrDisbursementTimeout, never as a plain failure.
type Provider interface {
	Disburse(ctx context.Context, payout *models.Payout, affiliate *models.Affiliate) (string, error)
	CheckStatus(ctx context.Context, externalRef string) (Status, error)
}

// Registry maps payout methods to their providers
type Registry struct {
	providers map[models.PayoutMethod]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[models.PayoutMethod]Provider)}
}

// Register adds a provider for a payout method
func (r *Registry) Register(method models.PayoutMethod, provider Provider) {
	r.providers[method] = provider
}

// Get returns the provider for a payout method
func (r *Registry) Get(method models.PayoutMethod) (Provider, error) {
	provider, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("no disbursement provider registered for method %s", method)
	}
	return provider, nil
}
