package store

import (
	"context"
	"database/sql"
	"errors"
)

// ChannelGate returns the required-channel URL for a tenant, or
// ErrNotFound when the owner never set one (callers apply the default).
func (s *Store) ChannelGate(ctx context.Context, credential string) (string, error) {
	var url string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_url FROM channel_gates WHERE tenant_credential = ?`,
		credential).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return url, err
}

func (s *Store) UpsertChannelGate(ctx context.Context, credential, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_gates(tenant_credential, channel_url) VALUES(?,?)
		 ON CONFLICT(tenant_credential) DO UPDATE SET channel_url = excluded.channel_url`,
		credential, url)
	return err
}

func (s *Store) DeleteChannelGateByTenant(ctx context.Context, credential string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_gates WHERE tenant_credential = ?`, credential)
	return err
}
