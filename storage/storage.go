package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"skymaintain.app/licensing/models"
)

var (
	// ErrDuplicateKey means the license_key unique constraint fired.
	ErrDuplicateKey = errors.New("storage: duplicate license key")
	// ErrActiveConflict means an active record already exists for the
	// org or subscription (the partial unique indexes fired).
	ErrActiveConflict = errors.New("storage: active license already exists")
	// ErrNotFound means an update referenced a missing record id.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidTransition means an update tried an illegal status
	// change, e.g. reactivating an expired record.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// Store is the persistence contract for license records. There is no
// cross-call transaction guarantee: callers must assume two concurrent
// calls interleave arbitrarily between a read and a later write, and
// lean on the unique-constraint errors above instead.
//
// Find methods return (nil, nil) when nothing matches.
type Store interface {
	FindActiveByOrg(ctx context.Context, orgName string) (*models.LicenseRecord, error)
	FindActiveBySubscription(ctx context.Context, subscriptionRef string) (*models.LicenseRecord, error)
	FindActiveByEmail(ctx context.Context, email string) (*models.LicenseRecord, error)
	// FindActiveOrSuspendedByRefs resolves a record by subscription
	// ref, then customer ref, then email, in that priority order.
	FindActiveOrSuspendedByRefs(ctx context.Context, subscriptionRef, customerRef, email string) (*models.LicenseRecord, error)
	FindByKey(ctx context.Context, licenseKey string) (*models.LicenseRecord, error)
	// FindByEmail returns every record for an email, newest first.
	FindByEmail(ctx context.Context, email string) ([]*models.LicenseRecord, error)

	Insert(ctx context.Context, record *models.LicenseRecord) error
	UpdateStatus(ctx context.Context, id string, status models.Status, reason string) error
	UpdateExpiry(ctx context.Context, id string, expiresAt, renewedAt time.Time) error

	Close() error
}

// MemoryStore keeps records in a map. It enforces the same unique
// constraints and transition rules as the SQLite store so tests see
// identical behavior.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.LicenseRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.LicenseRecord)}
}

func sameOrg(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (m *MemoryStore) FindActiveByOrg(ctx context.Context, orgName string) (*models.LicenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.Status == models.StatusActive && sameOrg(rec.OrgName, orgName) {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindActiveBySubscription(ctx context.Context, subscriptionRef string) (*models.LicenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.Status == models.StatusActive && rec.StripeSubscriptionID != "" && rec.StripeSubscriptionID == subscriptionRef {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindActiveByEmail(ctx context.Context, email string) (*models.LicenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.Status == models.StatusActive && rec.Email == email {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindActiveOrSuspendedByRefs(ctx context.Context, subscriptionRef, customerRef, email string) (*models.LicenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	match := func(pred func(models.LicenseRecord) bool) *models.LicenseRecord {
		for _, rec := range m.records {
			if rec.Status != models.StatusActive && rec.Status != models.StatusSuspended {
				continue
			}
			if pred(rec) {
				out := rec
				return &out
			}
		}
		return nil
	}

	if subscriptionRef != "" {
		if rec := match(func(r models.LicenseRecord) bool { return r.StripeSubscriptionID == subscriptionRef }); rec != nil {
			return rec, nil
		}
	}
	if customerRef != "" {
		if rec := match(func(r models.LicenseRecord) bool { return r.StripeCustomerID == customerRef }); rec != nil {
			return rec, nil
		}
	}
	if email != "" {
		if rec := match(func(r models.LicenseRecord) bool { return r.Email == email }); rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindByKey(ctx context.Context, licenseKey string) (*models.LicenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.LicenseKey == licenseKey {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) ([]*models.LicenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.LicenseRecord
	for _, rec := range m.records {
		if rec.Email == email {
			cp := rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryStore) Insert(ctx context.Context, record *models.LicenseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.LicenseKey == record.LicenseKey {
			return ErrDuplicateKey
		}
	}
	if record.Status == models.StatusActive {
		for _, rec := range m.records {
			if rec.Status != models.StatusActive {
				continue
			}
			if sameOrg(rec.OrgName, record.OrgName) {
				return ErrActiveConflict
			}
			if record.StripeSubscriptionID != "" && rec.StripeSubscriptionID == record.StripeSubscriptionID {
				return ErrActiveConflict
			}
		}
	}

	m.records[record.ID] = *record
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[id]
	if !exists {
		return ErrNotFound
	}
	if !rec.Status.CanTransitionTo(status) {
		return ErrInvalidTransition
	}
	if status == models.StatusActive {
		for _, other := range m.records {
			if other.ID == id || other.Status != models.StatusActive {
				continue
			}
			if sameOrg(other.OrgName, rec.OrgName) {
				return ErrActiveConflict
			}
			if rec.StripeSubscriptionID != "" && other.StripeSubscriptionID == rec.StripeSubscriptionID {
				return ErrActiveConflict
			}
		}
	}

	rec.Status = status
	rec.RevocationReason = reason
	rec.UpdatedAt = time.Now()
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) UpdateExpiry(ctx context.Context, id string, expiresAt, renewedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[id]
	if !exists {
		return ErrNotFound
	}

	rec.ExpiresAt = expiresAt
	rec.RenewedAt = &renewedAt
	rec.UpdatedAt = time.Now()
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
