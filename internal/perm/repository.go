package perm

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Repository computes effective permissions and manages the per-user
// version counter directly against the system of record.
type Repository interface {
	// EffectivePermissions derives the user's current snapshot. Returns
	// ErrUserNotFound if the user does not exist.
	EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error)

	// BumpVersion atomically increments the user's perm_version and
	// returns the new value.
	BumpVersion(ctx context.Context, userID string) (int64, error)
}

// SQLRepository implements Repository over the relational system of
// record. Placeholders use the $N style, which both the postgres and
// sqlite3 drivers accept.
type SQLRepository struct {
	db *sql.DB
}

// Compile-time check that SQLRepository implements Repository.
var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates a repository sharing the store's database pool.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	var roleID sql.NullString
	var ver int64
	err := r.db.QueryRowContext(ctx,
		`SELECT role_id, perm_version FROM users WHERE id = $1`,
		userID,
	).Scan(&roleID, &ver)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user failed: %w", err)
	}

	granted := make(map[string]struct{})
	if roleID.Valid {
		rows, err := r.db.QueryContext(ctx,
			`SELECT permission FROM role_permissions WHERE role_id = $1`,
			roleID.String,
		)
		if err != nil {
			return nil, fmt.Errorf("load role permissions failed: %w", err)
		}
		if err := collectInto(rows, func(p string) { granted[p] = struct{}{} }); err != nil {
			return nil, err
		}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT permission, mode FROM user_permission_overrides WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load permission overrides failed: %w", err)
	}
	defer rows.Close()
	var revoked []string
	for rows.Next() {
		var permission, mode string
		if err := rows.Scan(&permission, &mode); err != nil {
			return nil, fmt.Errorf("scan permission override failed: %w", err)
		}
		if mode == "grant" {
			granted[permission] = struct{}{}
		} else {
			revoked = append(revoked, permission)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("permission override iteration failed: %w", err)
	}
	// Revokes win over grants from any source.
	for _, p := range revoked {
		delete(granted, p)
	}

	chRows, err := r.db.QueryContext(ctx,
		`SELECT channel_id FROM user_channels WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load channel allow-list failed: %w", err)
	}
	var channels []string
	if err := collectInto(chRows, func(c string) { channels = append(channels, c) }); err != nil {
		return nil, err
	}

	permissions := make([]string, 0, len(granted))
	for p := range granted {
		permissions = append(permissions, p)
	}
	sort.Strings(permissions)
	sort.Strings(channels)

	return &EffectivePermissions{
		UserID:          userID,
		Ver:             ver,
		Permissions:     permissions,
		AllowedChannels: channels,
	}, nil
}

func (r *SQLRepository) BumpVersion(ctx context.Context, userID string) (int64, error) {
	var ver int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET perm_version = perm_version + 1 WHERE id = $1 RETURNING perm_version`,
		userID,
	).Scan(&ver)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bump perm version failed: %w", err)
	}
	return ver, nil
}

// collectInto scans single-column string rows into the given sink.
func collectInto(rows *sql.Rows, sink func(string)) error {
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return fmt.Errorf("scan row failed: %w", err)
		}
		sink(s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration failed: %w", err)
	}
	return nil
}
