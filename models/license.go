package models

import (
	"fmt"
	"strings"
	"time"
)

type Plan string

const (
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// ParsePlan validates a plan name at the system boundary. The engine
// assumes plans are already valid.
func ParsePlan(s string) (Plan, error) {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanStarter:
		return PlanStarter, nil
	case PlanProfessional:
		return PlanProfessional, nil
	case PlanEnterprise:
		return PlanEnterprise, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

func ParseBillingInterval(s string) (BillingInterval, error) {
	switch BillingInterval(strings.ToLower(strings.TrimSpace(s))) {
	case IntervalMonthly:
		return IntervalMonthly, nil
	case IntervalYearly:
		return IntervalYearly, nil
	}
	return "", fmt.Errorf("unknown billing interval %q", s)
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

// CanTransitionTo reports whether a status change is legal. Active and
// suspended move freely between each other and into expired; expired is
// terminal. Writing the same status again is allowed so repeated events
// stay idempotent.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusActive, StatusSuspended:
		return next == StatusActive || next == StatusSuspended || next == StatusExpired
	}
	return false
}

// LicenseRecord is the persisted license. Records are never deleted,
// only status-transitioned, so the history of an email address stays
// auditable.
type LicenseRecord struct {
	ID                   string            `json:"id"`
	LicenseKey           string            `json:"license_key"`
	Email                string            `json:"email"`
	OrgName              string            `json:"org_name"`
	Plan                 Plan              `json:"plan"`
	BillingInterval      BillingInterval   `json:"billing_interval"`
	Status               Status            `json:"status"`
	IssuedAt             time.Time         `json:"issued_at"`
	ActivatedAt          time.Time         `json:"activated_at"`
	ExpiresAt            time.Time         `json:"expires_at"`
	RenewedAt            *time.Time        `json:"renewed_at,omitempty"`
	RevocationReason     string            `json:"revocation_reason,omitempty"`
	StripeCustomerID     string            `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string            `json:"stripe_subscription_id,omitempty"`
	CreatedBy            string            `json:"created_by"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
}
