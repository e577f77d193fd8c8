package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresRepository reads administrators from the hospital_admins,
// hospitals and hospital_admin_affiliations tables.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository reads and writes through db, usually a *pgxpool.Pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const findByIdentifierQuery = `
	SELECT id::text, identifier, password_hash, role, display_name, alert_email, must_change_password, active
	FROM hospital_admins
	WHERE lower(identifier) = $1
	LIMIT 1`

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (*Admin, error) {
	var (
		a    Admin
		role string
	)
	err := r.db.QueryRow(ctx, findByIdentifierQuery, NormalizeIdentifier(identifier)).Scan(
		&a.ID, &a.Identifier, &a.PasswordHash, &role, &a.DisplayName, &a.AlertEmail, &a.MustChangePassword, &a.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account: find by identifier: %w", err)
	}
	a.Role = Role(role)
	return &a, nil
}

const findAffiliationQuery = `
	SELECT a.role, h.id, h.code, h.name
	FROM hospital_admin_affiliations a
	JOIN hospitals h ON h.id = a.hospital_id
	WHERE a.admin_id::text = $1
	  AND (lower(h.code) = lower($2) OR ($3::bigint > 0 AND h.id = $3::bigint))
	LIMIT 1`

func (r *PostgresRepository) FindAffiliation(ctx context.Context, accountID string, lookup FacilityLookup) (*Affiliation, error) {
	var (
		aff  = Affiliation{AccountID: accountID}
		role string
	)
	err := r.db.QueryRow(ctx, findAffiliationQuery, accountID, strings.TrimSpace(lookup.Code), lookup.ID).Scan(
		&role, &aff.Hospital.ID, &aff.Hospital.Code, &aff.Hospital.Name,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account: find affiliation: %w", err)
	}
	aff.Role = AffiliationRole(role)
	return &aff, nil
}

const setPasswordHashQuery = `
	UPDATE hospital_admins SET password_hash = $2, updated_at = now() WHERE id::text = $1`

func (r *PostgresRepository) SetPasswordHash(ctx context.Context, accountID, hash string) error {
	tag, err := r.db.Exec(ctx, setPasswordHashQuery, accountID, hash)
	if err != nil {
		return fmt.Errorf("account: set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const clearMustChangeQuery = `
	UPDATE hospital_admins SET must_change_password = FALSE, updated_at = now() WHERE id::text = $1`

func (r *PostgresRepository) ClearMustChangeFlag(ctx context.Context, accountID string) error {
	tag, err := r.db.Exec(ctx, clearMustChangeQuery, accountID)
	if err != nil {
		return fmt.Errorf("account: clear must-change flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
