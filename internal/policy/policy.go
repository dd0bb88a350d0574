// Package policy decides whether a generated reply may be posted without a
// human looking at it.
package policy

import "github.com/kalambet/replyd/internal/domain"

// Defaults used when the configuration leaves the fields empty.
const DefaultAutoApproveConfidence = 0.8

// DefaultHighValueWorkflows are the workflows that always hold a reply for review.
func DefaultHighValueWorkflows() []string {
	return []string{"sales_follow_up", "appointment_booking"}
}

// Policy holds the tunables for disposition decisions.
type Policy struct {
	autoApproveConfidence float64
	highValue             map[string]struct{}
}

// New builds a Policy. A non-positive threshold or empty high-value list
// falls back to the defaults.
func New(autoApproveConfidence float64, highValueWorkflows []string) *Policy {
	if autoApproveConfidence <= 0 {
		autoApproveConfidence = DefaultAutoApproveConfidence
	}
	if len(highValueWorkflows) == 0 {
		highValueWorkflows = DefaultHighValueWorkflows()
	}
	hv := make(map[string]struct{}, len(highValueWorkflows))
	for _, w := range highValueWorkflows {
		hv[w] = struct{}{}
	}
	return &Policy{autoApproveConfidence: autoApproveConfidence, highValue: hv}
}

// Default returns a Policy with the built-in threshold and high-value set.
func Default() *Policy {
	return New(0, nil)
}

// NeedsApproval reports whether a reply in this category with these
// triggers must wait for an operator. Rules apply in order; the first match
// decides.
func (p *Policy) NeedsApproval(category domain.Category, triggers domain.TriggerRecord) bool {
	switch category {
	case domain.Praise, domain.General:
		return false
	case domain.Complaint, domain.Lead:
		return true
	}
	for _, w := range triggers.Workflows {
		if _, ok := p.highValue[w]; ok {
			return true
		}
	}
	return false
}

// CanAutoApprove is the sweep gate for pending replies while the owner is away.
func (p *Policy) CanAutoApprove(r domain.Reply) bool {
	if r.Source == domain.SourceFallback {
		return false
	}
	if r.Category != domain.Praise && r.Category != domain.General {
		return false
	}
	return r.Confidence >= p.autoApproveConfidence
}

// AutoApproveConfidence returns the configured threshold.
func (p *Policy) AutoApproveConfidence() float64 {
	return p.autoApproveConfidence
}
