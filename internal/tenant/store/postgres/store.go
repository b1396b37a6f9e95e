// Package postgres persists tenants in the tenants table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"signet/internal/tenant/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

// Store persists tenant records.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL tenant store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateIfNameAvailable inserts the tenant unless its name is already
// taken. The conditional insert and the unique index on lower(name)
// together make the check race-free.
func (s *Store) CreateIfNameAvailable(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM tenants WHERE LOWER(name) = LOWER($2)
		)
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(tenant.ID),
		tenant.Name,
		string(tenant.Status),
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

// FindByID loads one tenant by id.
func (s *Store) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx, selectTenant+` WHERE id = $1`, uuid.UUID(tenantID))
	tenant, err := scanTenant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	return tenant, nil
}

// FindByName loads one tenant by name, case-insensitively.
func (s *Store) FindByName(ctx context.Context, name string) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx, selectTenant+` WHERE LOWER(name) = LOWER($1)`, name)
	tenant, err := scanTenant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	return tenant, nil
}

// Execute loads the tenant FOR UPDATE, runs validate then mutate, and
// persists the result inside one transaction, so the status check and
// the status change cannot interleave with a rival update.
func (s *Store) Execute(ctx context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tenant update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, selectTenant+` WHERE id = $1 FOR UPDATE`, uuid.UUID(tenantID))
	tenant, err := scanTenant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	if err := validate(tenant); err != nil {
		return nil, err
	}
	mutate(tenant)

	_, err = tx.ExecContext(ctx, `
		UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1
	`, uuid.UUID(tenant.ID), string(tenant.Status), tenant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tenant update: %w", err)
	}
	return tenant, nil
}

const selectTenant = `
	SELECT id, name, status, created_at, updated_at
	FROM tenants
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		tenant   models.Tenant
		tenantID uuid.UUID
		status   string
	)
	err := row.Scan(&tenantID, &tenant.Name, &status, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tenant.ID = id.TenantID(tenantID)
	tenant.Status = models.TenantStatus(status)
	return &tenant, nil
}
