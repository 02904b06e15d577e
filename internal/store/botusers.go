package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"botforge/internal/state"
)

// EnsureBotUser loads the membership for (credential, userID), creating
// it with defaults on first contact. Creation is idempotent under
// concurrent duplicate events: a unique-constraint violation falls back
// to re-reading the row the racing writer inserted.
func (s *Store) EnsureBotUser(ctx context.Context, credential string, userID int64, displayName, referredBy string) (BotUser, bool, error) {
	bu, err := s.botUser(ctx, credential, userID)
	if err == nil {
		return bu, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return BotUser{}, false, err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bot_users(tenant_credential, user_id, last_seen, display_name, referred_by)
		 VALUES(?,?,?,?,?)`,
		credential, userID, now.Format(time.RFC3339Nano), nullStr(displayName), nullStr(referredBy),
	)
	if isUniqueViolation(err) {
		bu, err = s.botUser(ctx, credential, userID)
		return bu, false, err
	}
	if err != nil {
		return BotUser{}, false, err
	}
	bu, err = s.botUser(ctx, credential, userID)
	return bu, true, err
}

func (s *Store) botUser(ctx context.Context, credential string, userID int64) (BotUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_credential, user_id, has_joined, step, flow, last_seen, blocked,
		        display_name, referred_by, first_contact
		 FROM bot_users WHERE tenant_credential = ? AND user_id = ?`,
		credential, userID)

	var (
		bu             BotUser
		name, referred sql.NullString
		seen           string
	)
	err := row.Scan(&bu.TenantCredential, &bu.UserID, &bu.HasJoined, &bu.Step, &bu.Flow,
		&seen, &bu.Blocked, &name, &referred, &bu.FirstContact)
	if errors.Is(err, sql.ErrNoRows) {
		return BotUser{}, ErrNotFound
	}
	if err != nil {
		return BotUser{}, err
	}
	bu.DisplayName = strOrEmpty(name)
	bu.ReferredBy = strOrEmpty(referred)
	bu.LastSeen, _ = time.Parse(time.RFC3339Nano, seen)
	bu.Step = state.NormStep(bu.Step)
	bu.Flow = state.NormFlow(bu.Flow)
	return bu, nil
}

func (s *Store) BotUser(ctx context.Context, credential string, userID int64) (BotUser, error) {
	return s.botUser(ctx, credential, userID)
}

func (s *Store) SaveBotUserState(ctx context.Context, credential string, userID int64, step state.Step, flow state.Flow) error {
	return s.updateBotUser(ctx, credential, userID,
		`UPDATE bot_users SET step = ?, flow = ? WHERE tenant_credential = ? AND user_id = ?`,
		string(step), string(flow))
}

func (s *Store) TouchBotUser(ctx context.Context, credential string, userID int64, at time.Time) error {
	return s.updateBotUser(ctx, credential, userID,
		`UPDATE bot_users SET last_seen = ? WHERE tenant_credential = ? AND user_id = ?`,
		at.Format(time.RFC3339Nano))
}

func (s *Store) SetBotUserJoined(ctx context.Context, credential string, userID int64, joined bool) error {
	return s.updateBotUser(ctx, credential, userID,
		`UPDATE bot_users SET has_joined = ? WHERE tenant_credential = ? AND user_id = ?`,
		joined)
}

func (s *Store) SetBotUserBlocked(ctx context.Context, credential string, userID int64, blocked bool) error {
	return s.updateBotUser(ctx, credential, userID,
		`UPDATE bot_users SET blocked = ? WHERE tenant_credential = ? AND user_id = ?`,
		blocked)
}

func (s *Store) updateBotUser(ctx context.Context, credential string, userID int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, credential, userID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearBotUserFirstContact flips the first-contact flag off and reports
// whether this call was the one that flipped it. The conditional update
// is the only guard against duplicate owner notifications.
func (s *Store) ClearBotUserFirstContact(ctx context.Context, credential string, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bot_users SET first_contact = 0
		 WHERE tenant_credential = ? AND user_id = ? AND first_contact = 1`,
		credential, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CountJoined(ctx context.Context, credential string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bot_users WHERE tenant_credential = ? AND has_joined = 1`,
		credential).Scan(&n)
	return n, err
}

// Recipients lists the joined, unblocked member identities of a tenant
// in stable order.
func (s *Store) Recipients(ctx context.Context, credential string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM bot_users
		 WHERE tenant_credential = ? AND has_joined = 1 AND blocked = 0
		 ORDER BY user_id`, credential)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (s *Store) DeleteBotUsersByTenant(ctx context.Context, credential string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bot_users WHERE tenant_credential = ?`, credential)
	return err
}

func (s *Store) CountBotUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bot_users WHERE has_joined = 1`).Scan(&n)
	return n, err
}

func collectIDs(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
