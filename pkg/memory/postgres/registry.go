package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is one registered account.
type User struct {
	// ID is the account's UUID.
	ID string

	// Username is the unique login name.
	Username string

	// PasswordHash is the encoded argon2id hash of the account password.
	PasswordHash string

	// CreatedAt is when the account was registered.
	CreatedAt time.Time
}

// Chat is one registered conversation belonging to a user.
type Chat struct {
	// ID is the conversation's UUID.
	ID string

	// UserID is the owning account's UUID.
	UserID string

	// Name is the display name of the conversation.
	Name string

	// CreatedAt is when the conversation was created.
	CreatedAt time.Time
}

// Registry is the catalog of user accounts and their conversations.
// Deleting a user cascades to their chat rows; the per-conversation state in
// the other stores is torn down by the conversation manager.
//
// Obtain one via [Store.Registry] rather than constructing directly.
// All methods are safe for concurrent use.
type Registry struct {
	pool *pgxpool.Pool
}

// CreateUser inserts a new account. A duplicate ID or username is an error.
func (r *Registry) CreateUser(ctx context.Context, u User) error {
	const q = `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)`
	if _, err := r.pool.Exec(ctx, q, u.ID, u.Username, u.PasswordHash); err != nil {
		return fmt.Errorf("registry: create user: %w", err)
	}
	return nil
}

// UserByName retrieves an account by username.
// Returns (nil, nil) when no such account exists.
func (r *Registry) UserByName(ctx context.Context, username string) (*User, error) {
	const q = `
		SELECT id, username, password_hash, created_at
		FROM   users
		WHERE  username = $1`
	return r.scanUser(r.pool.QueryRow(ctx, q, username))
}

// UserByID retrieves an account by ID.
// Returns (nil, nil) when no such account exists.
func (r *Registry) UserByID(ctx context.Context, id string) (*User, error) {
	const q = `
		SELECT id, username, password_hash, created_at
		FROM   users
		WHERE  id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, q, id))
}

func (r *Registry) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: scan user: %w", err)
	}
	return &u, nil
}

// UpdateUsername changes the login name of the identified account.
func (r *Registry) UpdateUsername(ctx context.Context, id, username string) error {
	const q = `UPDATE users SET username = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, username); err != nil {
		return fmt.Errorf("registry: update username: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash of the identified account.
func (r *Registry) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const q = `UPDATE users SET password_hash = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, passwordHash); err != nil {
		return fmt.Errorf("registry: update password: %w", err)
	}
	return nil
}

// DeleteUser removes the account; chat rows cascade.
// Deleting an absent account is not an error.
func (r *Registry) DeleteUser(ctx context.Context, id string) error {
	const q = `DELETE FROM users WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("registry: delete user: %w", err)
	}
	return nil
}

// CreateChat inserts a new conversation row for its owning user.
func (r *Registry) CreateChat(ctx context.Context, c Chat) error {
	const q = `
		INSERT INTO chats (id, user_id, name)
		VALUES ($1, $2, $3)`
	if _, err := r.pool.Exec(ctx, q, c.ID, c.UserID, c.Name); err != nil {
		return fmt.Errorf("registry: create chat: %w", err)
	}
	return nil
}

// ChatByID retrieves a conversation row by ID.
// Returns (nil, nil) when no such conversation exists.
func (r *Registry) ChatByID(ctx context.Context, id string) (*Chat, error) {
	const q = `
		SELECT id, user_id, name, created_at
		FROM   chats
		WHERE  id = $1`

	var c Chat
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: chat by id: %w", err)
	}
	return &c, nil
}

// ChatsByUser returns all conversations owned by userID, oldest first.
// Returns an empty (non-nil) slice when the user has no conversations.
func (r *Registry) ChatsByUser(ctx context.Context, userID string) ([]Chat, error) {
	const q = `
		SELECT id, user_id, name, created_at
		FROM   chats
		WHERE  user_id = $1
		ORDER  BY created_at`

	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("registry: chats by user: %w", err)
	}

	chats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Chat, error) {
		var c Chat
		if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt); err != nil {
			return Chat{}, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: scan rows: %w", err)
	}
	if chats == nil {
		chats = []Chat{}
	}
	return chats, nil
}

// RenameChat changes the display name of the identified conversation.
func (r *Registry) RenameChat(ctx context.Context, id, name string) error {
	const q = `UPDATE chats SET name = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, name); err != nil {
		return fmt.Errorf("registry: rename chat: %w", err)
	}
	return nil
}

// DeleteChat removes the conversation row. Deleting an absent conversation is
// not an error.
func (r *Registry) DeleteChat(ctx context.Context, id string) error {
	const q = `DELETE FROM chats WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("registry: delete chat: %w", err)
	}
	return nil
}
