package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"skymaintain.app/licensing/models"
)

// SQLiteStore persists license records in a single table. Invariants
// "at most one active per org" and "at most one active per
// subscription" are partial unique indexes, so concurrent issuers
// across processes race on the constraint instead of on a lock.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
      CREATE TABLE IF NOT EXISTS licenses (
          id TEXT PRIMARY KEY,
          license_key TEXT UNIQUE NOT NULL,
          email TEXT NOT NULL,
          org_name TEXT NOT NULL,
          plan TEXT NOT NULL,
          billing_interval TEXT NOT NULL,
          status TEXT NOT NULL,
          issued_at DATETIME NOT NULL,
          activated_at DATETIME NOT NULL,
          expires_at DATETIME NOT NULL,
          renewed_at DATETIME,
          revocation_reason TEXT NOT NULL DEFAULT '',
          stripe_customer_id TEXT NOT NULL DEFAULT '',
          stripe_subscription_id TEXT NOT NULL DEFAULT '',
          created_by TEXT NOT NULL DEFAULT 'system',
          metadata TEXT NOT NULL DEFAULT '{}',
          updated_at DATETIME NOT NULL
      );

      CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_active_org
          ON licenses (org_name COLLATE NOCASE) WHERE status = 'active';

      CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_active_subscription
          ON licenses (stripe_subscription_id)
          WHERE status = 'active' AND stripe_subscription_id != '';

      CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses (email);
      `

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const licenseColumns = `id, license_key, email, org_name, plan, billing_interval, status,
	issued_at, activated_at, expires_at, renewed_at, revocation_reason,
	stripe_customer_id, stripe_subscription_id, created_by, metadata, updated_at`

func (s *SQLiteStore) scanLicense(row interface{ Scan(...any) error }) (*models.LicenseRecord, error) {
	var rec models.LicenseRecord
	var renewedAt sql.NullTime
	var metadata string

	err := row.Scan(
		&rec.ID,
		&rec.LicenseKey,
		&rec.Email,
		&rec.OrgName,
		&rec.Plan,
		&rec.BillingInterval,
		&rec.Status,
		&rec.IssuedAt,
		&rec.ActivatedAt,
		&rec.ExpiresAt,
		&renewedAt,
		&rec.RevocationReason,
		&rec.StripeCustomerID,
		&rec.StripeSubscriptionID,
		&rec.CreatedBy,
		&metadata,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if renewedAt.Valid {
		t := renewedAt.Time
		rec.RenewedAt = &t
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", rec.ID, err)
		}
	}

	return &rec, nil
}

func (s *SQLiteStore) findOne(ctx context.Context, where string, args ...any) (*models.LicenseRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE %s LIMIT 1`, licenseColumns, where)
	return s.scanLicense(s.db.QueryRowContext(ctx, query, args...))
}

func (s *SQLiteStore) FindActiveByOrg(ctx context.Context, orgName string) (*models.LicenseRecord, error) {
	return s.findOne(ctx, `status = 'active' AND org_name = ? COLLATE NOCASE`, strings.TrimSpace(orgName))
}

func (s *SQLiteStore) FindActiveBySubscription(ctx context.Context, subscriptionRef string) (*models.LicenseRecord, error) {
	return s.findOne(ctx, `status = 'active' AND stripe_subscription_id = ? AND stripe_subscription_id != ''`, subscriptionRef)
}

func (s *SQLiteStore) FindActiveByEmail(ctx context.Context, email string) (*models.LicenseRecord, error) {
	return s.findOne(ctx, `status = 'active' AND email = ?`, email)
}

func (s *SQLiteStore) FindActiveOrSuspendedByRefs(ctx context.Context, subscriptionRef, customerRef, email string) (*models.LicenseRecord, error) {
	const live = `status IN ('active', 'suspended')`

	if subscriptionRef != "" {
		rec, err := s.findOne(ctx, live+` AND stripe_subscription_id = ?`, subscriptionRef)
		if rec != nil || err != nil {
			return rec, err
		}
	}
	if customerRef != "" {
		rec, err := s.findOne(ctx, live+` AND stripe_customer_id = ?`, customerRef)
		if rec != nil || err != nil {
			return rec, err
		}
	}
	if email != "" {
		rec, err := s.findOne(ctx, live+` AND email = ?`, email)
		if rec != nil || err != nil {
			return rec, err
		}
	}
	return nil, nil
}

func (s *SQLiteStore) FindByKey(ctx context.Context, licenseKey string) (*models.LicenseRecord, error) {
	return s.findOne(ctx, `license_key = ?`, licenseKey)
}

func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) ([]*models.LicenseRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE email = ? ORDER BY issued_at DESC`, licenseColumns)

	rows, err := s.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()

	var records []*models.LicenseRecord
	for rows.Next() {
		rec, err := s.scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, record *models.LicenseRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if record.Metadata == nil {
		metadata = []byte("{}")
	}

	var renewedAt sql.NullTime
	if record.RenewedAt != nil {
		renewedAt = sql.NullTime{Time: *record.RenewedAt, Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO licenses (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, licenseColumns)

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.LicenseKey,
		record.Email,
		record.OrgName,
		record.Plan,
		record.BillingInterval,
		record.Status,
		record.IssuedAt,
		record.ActivatedAt,
		record.ExpiresAt,
		renewedAt,
		record.RevocationReason,
		record.StripeCustomerID,
		record.StripeSubscriptionID,
		record.CreatedBy,
		string(metadata),
		record.UpdatedAt,
	)
	if err != nil {
		return mapConstraintError(err)
	}

	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.Status, reason string) error {
	current, err := s.findOne(ctx, `id = ?`, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}
	if !current.Status.CanTransitionTo(status) {
		return ErrInvalidTransition
	}

	// Guard against a concurrent transition between the read above and
	// this write: only update if the status is still what we saw.
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status = ?, revocation_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, reason, time.Now(), id, current.Status,
	)
	if err != nil {
		return mapConstraintError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidTransition
	}

	return nil
}

func (s *SQLiteStore) UpdateExpiry(ctx context.Context, id string, expiresAt, renewedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET expires_at = ?, renewed_at = ?, updated_at = ? WHERE id = ?`,
		expiresAt, renewedAt, time.Now(), id,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapConstraintError translates a sqlite unique violation into the
// storage sentinel the engine keys its retry/idempotence logic on.
func mapConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return err
	}
	if strings.Contains(sqliteErr.Error(), "license_key") {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return fmt.Errorf("%w: %v", ErrActiveConflict, err)
}
