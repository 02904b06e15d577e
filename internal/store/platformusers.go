package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"botforge/internal/state"
)

func (s *Store) EnsurePlatformUser(ctx context.Context, userID int64, displayName, referredBy string) (PlatformUser, bool, error) {
	pu, err := s.platformUser(ctx, userID)
	if err == nil {
		return pu, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PlatformUser{}, false, err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO platform_users(user_id, last_seen, display_name, referred_by)
		 VALUES(?,?,?,?)`,
		userID, now.Format(time.RFC3339Nano), nullStr(displayName), nullStr(referredBy),
	)
	if isUniqueViolation(err) {
		pu, err = s.platformUser(ctx, userID)
		return pu, false, err
	}
	if err != nil {
		return PlatformUser{}, false, err
	}
	pu, err = s.platformUser(ctx, userID)
	return pu, true, err
}

func (s *Store) platformUser(ctx context.Context, userID int64) (PlatformUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, step, flow, last_seen, blocked, display_name, referred_by, first_contact
		 FROM platform_users WHERE user_id = ?`, userID)

	var (
		pu             PlatformUser
		name, referred sql.NullString
		seen           string
	)
	err := row.Scan(&pu.UserID, &pu.Step, &pu.Flow, &seen, &pu.Blocked, &name, &referred, &pu.FirstContact)
	if errors.Is(err, sql.ErrNoRows) {
		return PlatformUser{}, ErrNotFound
	}
	if err != nil {
		return PlatformUser{}, err
	}
	pu.DisplayName = strOrEmpty(name)
	pu.ReferredBy = strOrEmpty(referred)
	pu.LastSeen, _ = time.Parse(time.RFC3339Nano, seen)
	pu.Step = state.NormStep(pu.Step)
	pu.Flow = state.NormFlow(pu.Flow)
	return pu, nil
}

func (s *Store) PlatformUser(ctx context.Context, userID int64) (PlatformUser, error) {
	return s.platformUser(ctx, userID)
}

func (s *Store) SavePlatformUserState(ctx context.Context, userID int64, step state.Step, flow state.Flow) error {
	return s.updatePlatformUser(ctx, userID,
		`UPDATE platform_users SET step = ?, flow = ? WHERE user_id = ?`,
		string(step), string(flow))
}

func (s *Store) TouchPlatformUser(ctx context.Context, userID int64, at time.Time) error {
	return s.updatePlatformUser(ctx, userID,
		`UPDATE platform_users SET last_seen = ? WHERE user_id = ?`,
		at.Format(time.RFC3339Nano))
}

func (s *Store) SetPlatformUserBlocked(ctx context.Context, userID int64, blocked bool) error {
	return s.updatePlatformUser(ctx, userID,
		`UPDATE platform_users SET blocked = ? WHERE user_id = ?`,
		blocked)
}

func (s *Store) updatePlatformUser(ctx context.Context, userID int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, userID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ClearPlatformFirstContact(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE platform_users SET first_contact = 0 WHERE user_id = ? AND first_contact = 1`,
		userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PlatformRecipients lists every unblocked platform user in stable order.
func (s *Store) PlatformRecipients(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM platform_users WHERE blocked = 0 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (s *Store) CountPlatformUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM platform_users`).Scan(&n)
	return n, err
}
