package app

import (
	"fmt"

	"chapterhub/services/portal/internal/editionclient"
)

// QuotaGate answers whether an author still has submission allowance for an
// edition. The balance is owned by the remote edition service and read
// fresh on every decision; a concurrent session may consume it at any time,
// so nothing here caches or reserves.
type QuotaGate struct {
	editions *editionclient.Client
}

// NewQuotaGate wraps the edition client.
func NewQuotaGate(editions *editionclient.Client) *QuotaGate {
	return &QuotaGate{editions: editions}
}

// AvailableCredits reads the current balance. Remote failures surface as
// ErrRemoteUnavailable so callers can offer a retry instead of reporting a
// false zero.
func (g *QuotaGate) AvailableCredits(token, authorID, editionID string) (int, error) {
	if token == "" {
		return 0, ErrNotEligible
	}
	credits, err := g.editions.AvailableCredits(token, authorID, editionID)
	if err != nil {
		return 0, fmt.Errorf("%w: read credits: %v", ErrRemoteUnavailable, err)
	}
	return credits, nil
}

// Allow reports whether submission may proceed. It fails closed: an
// unresolved or errored balance never grants access.
func (g *QuotaGate) Allow(token, authorID, editionID string) (bool, int, error) {
	credits, err := g.AvailableCredits(token, authorID, editionID)
	if err != nil {
		return false, 0, err
	}
	return credits > 0, credits, nil
}
