// Package license drives a license record through its lifecycle:
// issued on the first successful payment event for an organisation,
// renewed or suspended by later billing events, and lazily expired at
// validation time. The engine holds no state of its own; every call is
// one bounded unit of work against the store, written so that retried
// and out-of-order webhook deliveries converge on the same record.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"skymaintain.app/licensing/internal/expiry"
	"skymaintain.app/licensing/internal/keycodec"
	"skymaintain.app/licensing/internal/logger"
	"skymaintain.app/licensing/models"
	"skymaintain.app/licensing/storage"
)

// maxKeyAttempts bounds key regeneration on a storage-level key
// collision before giving up with ErrKeyExhausted.
const maxKeyAttempts = 3

type Engine struct {
	store storage.Store
	codec *keycodec.Codec
	now   func() time.Time
}

func NewEngine(store storage.Store, codec *keycodec.Codec) *Engine {
	return &Engine{
		store: store,
		codec: codec,
		now:   time.Now,
	}
}

type IssueParams struct {
	Email           string
	OrgName         string
	Plan            models.Plan
	BillingInterval models.BillingInterval
	SubscriptionRef string
	CustomerRef     string
	// IssuedBy defaults to "system"; admin issuance passes the caller.
	IssuedBy string
	Metadata map[string]string
}

// Issue creates an active license for an organisation, or returns the
// one that already exists. Repeated billing events for the same
// purchase land on the same record: first by org, then by subscription
// ref. An active license for the same email bound to a different org
// or subscription is superseded (expired) before the new one is
// inserted. Issue never fails for the "already issued" case.
func (e *Engine) Issue(ctx context.Context, p IssueParams) (*models.LicenseRecord, error) {
	org := strings.TrimSpace(p.OrgName)
	if org == "" {
		return nil, fmt.Errorf("organisation name is required to issue a license")
	}

	if existing, err := e.store.FindActiveByOrg(ctx, org); err != nil {
		return nil, storeErr("find active by org", err)
	} else if existing != nil {
		logger.Info("issue: organisation already licensed", map[string]interface{}{
			"org_name":   existing.OrgName,
			"license_id": existing.ID,
		})
		return existing, nil
	}

	if p.SubscriptionRef != "" {
		if existing, err := e.store.FindActiveBySubscription(ctx, p.SubscriptionRef); err != nil {
			return nil, storeErr("find active by subscription", err)
		} else if existing != nil {
			logger.Info("issue: subscription already licensed", map[string]interface{}{
				"subscription_ref": p.SubscriptionRef,
				"license_id":       existing.ID,
			})
			return existing, nil
		}
	}

	// An active license for this email bound elsewhere is superseded:
	// the old record goes to expired, a fresh one replaces it.
	if old, err := e.store.FindActiveByEmail(ctx, p.Email); err != nil {
		return nil, storeErr("find active by email", err)
	} else if old != nil && e.boundElsewhere(old, org, p.SubscriptionRef) {
		if err := e.store.UpdateStatus(ctx, old.ID, models.StatusExpired, "superseded"); err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
			return nil, storeErr("supersede old license", err)
		}
		logger.Info("issue: superseded previous license", map[string]interface{}{
			"old_license_id": old.ID,
			"old_org_name":   old.OrgName,
			"org_name":       org,
		})
	}

	now := e.now()
	rec := &models.LicenseRecord{
		ID:                   uuid.Must(uuid.NewRandom()).String(),
		Email:                p.Email,
		OrgName:              org,
		Plan:                 p.Plan,
		BillingInterval:      p.BillingInterval,
		Status:               models.StatusActive,
		IssuedAt:             now,
		ActivatedAt:          now,
		ExpiresAt:            expiry.ComputeExpiresAt(p.BillingInterval, now),
		StripeCustomerID:     p.CustomerRef,
		StripeSubscriptionID: p.SubscriptionRef,
		CreatedBy:            p.IssuedBy,
		Metadata:             p.Metadata,
		UpdatedAt:            now,
	}
	if rec.CreatedBy == "" {
		rec.CreatedBy = "system"
	}

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := e.codec.Generate(p.Plan)
		if err != nil {
			return nil, fmt.Errorf("key generation failed: %w", err)
		}
		rec.LicenseKey = key

		err = e.store.Insert(ctx, rec)
		switch {
		case err == nil:
			logger.Info("license issued", map[string]interface{}{
				"license_id":  rec.ID,
				"license_key": rec.LicenseKey,
				"org_name":    rec.OrgName,
				"plan":        string(rec.Plan),
			})
			return rec, nil

		case errors.Is(err, storage.ErrDuplicateKey):
			logger.Warn("license key collision, regenerating", map[string]interface{}{
				"attempt": attempt + 1,
			})
			continue

		case errors.Is(err, storage.ErrActiveConflict):
			// A concurrent delivery won the insert race. Treat the
			// constraint violation as "already issued" and return the
			// winner.
			return e.findIssueWinner(ctx, org, p.SubscriptionRef)

		default:
			return nil, storeErr("insert license", err)
		}
	}

	return nil, ErrKeyExhausted
}

func (e *Engine) boundElsewhere(old *models.LicenseRecord, org, subscriptionRef string) bool {
	if !strings.EqualFold(strings.TrimSpace(old.OrgName), org) {
		return true
	}
	return subscriptionRef != "" && old.StripeSubscriptionID != subscriptionRef
}

func (e *Engine) findIssueWinner(ctx context.Context, org, subscriptionRef string) (*models.LicenseRecord, error) {
	if rec, err := e.store.FindActiveByOrg(ctx, org); err != nil {
		return nil, storeErr("find active by org", err)
	} else if rec != nil {
		return rec, nil
	}
	if subscriptionRef != "" {
		if rec, err := e.store.FindActiveBySubscription(ctx, subscriptionRef); err != nil {
			return nil, storeErr("find active by subscription", err)
		} else if rec != nil {
			return rec, nil
		}
	}
	// The winner vanished between the constraint violation and the
	// re-read (e.g. just superseded). The provider will redeliver.
	return nil, fmt.Errorf("%w: concurrent issue detected but no active record found", ErrNotFound)
}

type RenewParams struct {
	SubscriptionRef string
	CustomerRef     string
	Email           string
}

// Renew extends an active or suspended license by one billing interval
// counted from now, not from the previous expiry. This is deliberate
// leniency: a late-paid invoice grants a full fresh interval instead of
// banking time against a stale expiry. The record comes back active.
func (e *Engine) Renew(ctx context.Context, p RenewParams) (*models.LicenseRecord, error) {
	if p.SubscriptionRef == "" && p.CustomerRef == "" && p.Email == "" {
		return nil, fmt.Errorf("renew requires a subscription ref, customer ref or email")
	}

	rec, err := e.store.FindActiveOrSuspendedByRefs(ctx, p.SubscriptionRef, p.CustomerRef, p.Email)
	if err != nil {
		return nil, storeErr("find renewable license", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no active or suspended license matches", ErrNotFound)
	}

	now := e.now()
	newExpiry := expiry.ComputeExpiresAt(rec.BillingInterval, now)

	if err := e.store.UpdateStatus(ctx, rec.ID, models.StatusActive, ""); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrActiveConflict):
			return nil, fmt.Errorf("%w: cannot reactivate license %s: %v", ErrStateConflict, rec.ID, err)
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, storeErr("reactivate license", err)
		}
	}
	if err := e.store.UpdateExpiry(ctx, rec.ID, newExpiry, now); err != nil {
		return nil, storeErr("update expiry", err)
	}

	rec.Status = models.StatusActive
	rec.RevocationReason = ""
	rec.ExpiresAt = newExpiry
	rec.RenewedAt = &now

	logger.Info("license renewed", map[string]interface{}{
		"license_id": rec.ID,
		"org_name":   rec.OrgName,
		"expires_at": newExpiry.Format(time.RFC3339),
	})

	return rec, nil
}

type SuspendParams struct {
	SubscriptionRef string
	CustomerRef     string
	Reason          string
}

// Suspend moves a matching active license to suspended, recording the
// reason. Suspending an already-suspended or absent license is a no-op
// success so redelivered cancellation events stay harmless.
func (e *Engine) Suspend(ctx context.Context, p SuspendParams) error {
	if p.SubscriptionRef == "" && p.CustomerRef == "" {
		return fmt.Errorf("suspend requires a subscription ref or customer ref")
	}

	rec, err := e.store.FindActiveOrSuspendedByRefs(ctx, p.SubscriptionRef, p.CustomerRef, "")
	if err != nil {
		return storeErr("find suspendable license", err)
	}
	if rec == nil || rec.Status == models.StatusSuspended {
		return nil
	}

	reason := p.Reason
	if reason == "" {
		reason = "subscription_event"
	}

	if err := e.store.UpdateStatus(ctx, rec.ID, models.StatusSuspended, reason); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Expired under us; nothing left to suspend.
			return nil
		}
		return storeErr("suspend license", err)
	}

	logger.Info("license suspended", map[string]interface{}{
		"license_id": rec.ID,
		"org_name":   rec.OrgName,
		"reason":     reason,
	})

	return nil
}

// Validate checks a user-supplied key. The codec runs first, so
// malformed or tampered keys never touch storage. A stored active
// record past its expiry is flipped to expired here, exactly once;
// that is the only expiry mechanism in the system.
func (e *Engine) Validate(ctx context.Context, key, orgName string) (*models.LicenseRecord, error) {
	if _, err := e.codec.VerifyFormat(key); err != nil {
		return nil, err
	}

	rec, err := e.store.FindByKey(ctx, keycodec.Normalize(key))
	if err != nil {
		return nil, storeErr("find by key", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	switch rec.Status {
	case models.StatusSuspended:
		return nil, fmt.Errorf("%w: %s", ErrSuspended, rec.RevocationReason)
	case models.StatusExpired:
		return nil, ErrExpired
	}

	if e.now().After(rec.ExpiresAt) {
		if err := e.store.UpdateStatus(ctx, rec.ID, models.StatusExpired, ""); err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
			return nil, storeErr("expire license", err)
		}
		logger.Info("license lazily expired", map[string]interface{}{
			"license_id": rec.ID,
			"org_name":   rec.OrgName,
			"expired_at": rec.ExpiresAt.Format(time.RFC3339),
		})
		return nil, ErrExpired
	}

	if orgName != "" && !strings.EqualFold(strings.TrimSpace(orgName), strings.TrimSpace(rec.OrgName)) {
		return nil, ErrOrgMismatch
	}

	return rec, nil
}
