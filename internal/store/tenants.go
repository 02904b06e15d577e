package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) CreateTenant(ctx context.Context, t Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(credential, display_name, owner_id, creator_name, created_at)
		 VALUES(?,?,?,?,?)`,
		t.Credential, t.DisplayName, t.OwnerID, nullStr(t.CreatorName), t.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) Tenant(ctx context.Context, credential string) (Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT credential, display_name, owner_id, creator_name, created_at
		 FROM tenants WHERE credential = ?`, credential)
	return scanTenant(row)
}

// DeleteTenant removes only the tenant row; callers cascade dependents
// first (see tenant.Manager).
func (s *Store) DeleteTenant(ctx context.Context, credential string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE credential = ?`, credential)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TenantsByOwner(ctx context.Context, ownerID int64) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT credential, display_name, owner_id, creator_name, created_at
		 FROM tenants WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TenantsByAudience lists every tenant ordered by its joined, unblocked
// member count, largest first. Drives the cross-tenant broadcast sweep.
func (s *Store) TenantsByAudience(ctx context.Context) ([]TenantAudience, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.credential, t.display_name, t.owner_id, t.creator_name, t.created_at,
		        COUNT(bu.user_id) AS joined
		 FROM tenants t
		 LEFT JOIN bot_users bu
		   ON bu.tenant_credential = t.credential AND bu.has_joined = 1 AND bu.blocked = 0
		 GROUP BY t.credential
		 ORDER BY joined DESC, t.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TenantAudience
	for rows.Next() {
		var (
			ta      TenantAudience
			creator sql.NullString
			created string
		)
		if err := rows.Scan(&ta.Credential, &ta.DisplayName, &ta.OwnerID, &creator, &created, &ta.Joined); err != nil {
			return nil, err
		}
		ta.CreatorName = strOrEmpty(creator)
		ta.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ta)
	}
	return out, rows.Err()
}

func (s *Store) CountTenants(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var (
		t       Tenant
		creator sql.NullString
		created string
	)
	err := row.Scan(&t.Credential, &t.DisplayName, &t.OwnerID, &creator, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	t.CreatorName = strOrEmpty(creator)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return t, nil
}
