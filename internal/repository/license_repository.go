package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/ea-license-service/internal/model"
)

const licenseColumns = `id, email, whatsapp, login, server, broker, status, plan_days,
	expires_at, approved_at, note, client_uid, exness_status, created_at, updated_at`

// LicenseRepo provides access to the licenses table.  Every method touches
// at most one row except the two list queries; there are no multi-row
// transactions.  Queries are written with "?" placeholders and rebound
// for the active driver.
type LicenseRepo struct {
	db *sqlx.DB
}

// NewLicenseRepo returns a LicenseRepo bound to the given database.
func NewLicenseRepo(db *sqlx.DB) *LicenseRepo { return &LicenseRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *LicenseRepo) DB() *sqlx.DB { return r.db }

// EnsureSchema creates the licenses table and its indexes when missing.
func (r *LicenseRepo) EnsureSchema(ctx context.Context) error {
	stmts := mysqlSchema
	if r.db.DriverName() == "postgres" {
		stmts = postgresSchema
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id CHAR(36) PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		whatsapp VARCHAR(20) NULL,
		login BIGINT NOT NULL,
		server VARCHAR(100) NOT NULL,
		broker VARCHAR(100) NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		plan_days INT NOT NULL DEFAULT 30,
		expires_at DATETIME NULL,
		approved_at DATETIME NULL,
		note TEXT NULL,
		client_uid VARCHAR(64) NULL,
		exness_status VARCHAR(16) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_licenses_login_server (login, server),
		KEY idx_licenses_status (status),
		KEY idx_licenses_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		whatsapp VARCHAR(20),
		login BIGINT NOT NULL,
		server VARCHAR(100) NOT NULL,
		broker VARCHAR(100),
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		plan_days INTEGER NOT NULL DEFAULT 30,
		expires_at TIMESTAMPTZ,
		approved_at TIMESTAMPTZ,
		note TEXT,
		client_uid VARCHAR(64),
		exness_status VARCHAR(16),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_licenses_login_server UNIQUE (login, server)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses (status)`,
	`CREATE INDEX IF NOT EXISTS idx_licenses_created ON licenses (created_at)`,
}

// get runs a single-row select and maps sql.ErrNoRows to ErrNotFound.
func (r *LicenseRepo) get(ctx context.Context, q string, args ...any) (*model.License, error) {
	var l model.License
	if err := r.db.GetContext(ctx, &l, r.db.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// GetByID fetches a license by primary key.
func (r *LicenseRepo) GetByID(ctx context.Context, id string) (*model.License, error) {
	return r.get(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id)
}

// FindByLoginServer fetches the license for an MT5 account.
func (r *LicenseRepo) FindByLoginServer(ctx context.Context, login int64, server string) (*model.License, error) {
	return r.get(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE login = ? AND server = ?`, login, server)
}

// Insert writes a new license.  A (login, server) collision is reported as
// ErrDuplicate.
func (r *LicenseRepo) Insert(ctx context.Context, l *model.License) error {
	const q = `INSERT INTO licenses (id, email, whatsapp, login, server, broker, status, plan_days,
		expires_at, approved_at, note, client_uid, exness_status, created_at, updated_at)
		VALUES (:id, :email, :whatsapp, :login, :server, :broker, :status, :plan_days,
		:expires_at, :approved_at, :note, :client_uid, :exness_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, q, l); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Resubmit overwrites a rejected or revoked license with a fresh request.
// The id, login, server and created_at columns are left untouched; note and
// exness_status are cleared.
func (r *LicenseRepo) Resubmit(ctx context.Context, l *model.License) error {
	const q = `UPDATE licenses SET email = ?, whatsapp = ?, broker = ?, plan_days = ?, status = ?,
		expires_at = ?, approved_at = ?, note = NULL, client_uid = ?, exness_status = NULL, updated_at = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		l.Email, l.Whatsapp, l.Broker, l.PlanDays, l.Status,
		l.ExpiresAt, l.ApprovedAt, l.ClientUID, l.UpdatedAt, l.ID)
	return err
}

// Approve sets status=approved with the given approval window.
func (r *LicenseRepo) Approve(ctx context.Context, id string, approvedAt time.Time, expiresAt *time.Time) error {
	const q = `UPDATE licenses SET status = ?, approved_at = ?, expires_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), model.StatusApproved, approvedAt, expiresAt, approvedAt, id)
	return err
}

// Reject sets status=rejected and clears the approval window.
func (r *LicenseRepo) Reject(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE licenses SET status = ?, approved_at = NULL, expires_at = NULL, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), model.StatusRejected, now, id)
	return err
}

// Revoke sets status=revoked and keeps the last approval window visible.
func (r *LicenseRepo) Revoke(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE licenses SET status = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), model.StatusRevoked, now, id)
	return err
}

// RevokeUpstream revokes a license on behalf of the reconciliation job,
// recording the upstream status and the audit note.
func (r *LicenseRepo) RevokeUpstream(ctx context.Context, id, upstream, note string, now time.Time) error {
	const q = `UPDATE licenses SET status = ?, exness_status = ?, note = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), model.StatusRevoked, upstream, note, now, id)
	return err
}

// SetExnessStatus refreshes only the cached upstream status.
func (r *LicenseRepo) SetExnessStatus(ctx context.Context, id, upstream string, now time.Time) error {
	const q = `UPDATE licenses SET exness_status = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), upstream, now, id)
	return err
}

// ListRecent returns up to limit licenses, newest first.
func (r *LicenseRepo) ListRecent(ctx context.Context, limit int) ([]model.License, error) {
	out := []model.License{}
	q := `SELECT ` + licenseColumns + ` FROM licenses ORDER BY created_at DESC LIMIT ?`
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), limit); err != nil {
		return nil, err
	}
	return out, nil
}

// ListApprovedWithClientUID returns every approved license linked to an
// affiliate client, including rows past their expiry (stored status is
// still approved).
func (r *LicenseRepo) ListApprovedWithClientUID(ctx context.Context) ([]model.License, error) {
	out := []model.License{}
	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE status = ? AND client_uid IS NOT NULL ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), model.StatusApproved); err != nil {
		return nil, err
	}
	return out, nil
}
