package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/nightraid/internal/credential"
	"github.com/cory-johannsen/nightraid/internal/storage"
)

const (
	uniqueViolation = "23505"

	constraintUsername    = "users_username_key"
	constraintTokenDigest = "users_token_digest_key"
)

const userColumns = `id, username, token_digest, balance, machine_address, last_login, created_at`

// UserRepository provides user persistence operations. Tokens passed in are
// digested before they reach the database.
type UserRepository struct {
	db     *pgxpool.Pool
	digest *credential.Digester
}

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool; digest must be non-nil.
func NewUserRepository(db *pgxpool.Pool, digest *credential.Digester) *UserRepository {
	return &UserRepository{db: db, digest: digest}
}

// FindUserByToken returns the single user whose token digest matches token.
//
// Postcondition: Returns the User or storage.ErrUserNotFound.
func (r *UserRepository) FindUserByToken(ctx context.Context, token string) (storage.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE token_digest = $1`,
		r.digest.Digest(token),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.User{}, storage.ErrUserNotFound
		}
		return storage.User{}, fmt.Errorf("querying user by token: %w", err)
	}
	return u, nil
}

// GetByUsername returns the user with the given username.
//
// Postcondition: Returns the User or storage.ErrUserNotFound.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (storage.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		username,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.User{}, storage.ErrUserNotFound
		}
		return storage.User{}, fmt.Errorf("querying user by username: %w", err)
	}
	return u, nil
}

// UpdateUser persists the login bookkeeping fields of u: last_login and machine_address.
//
// Precondition: u.ID must identify an existing user.
// Postcondition: Returns nil, storage.ErrUserNotFound, or a wrapped database error.
func (r *UserRepository) UpdateUser(ctx context.Context, u storage.User) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_login = $1, machine_address = $2 WHERE id = $3`,
		u.LastLogin, u.MachineAddress, u.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// CreateUser inserts a user with zero balance bound to the digest of token.
//
// Precondition: username must be valid; token must be freshly generated.
// Postcondition: Returns the created User, storage.ErrUserExists if the username
// is taken, or storage.ErrTokenCollision if the digest is already in use.
func (r *UserRepository) CreateUser(ctx context.Context, username, token string) (storage.User, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (username, token_digest, balance)
		 VALUES ($1, $2, 0)
		 RETURNING `+userColumns,
		username, r.digest.Digest(token),
	)
	u, err := scanUser(row)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return storage.User{}, mapped
		}
		return storage.User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// RotateToken replaces the token of the named user with token.
//
// Postcondition: Returns the updated User, storage.ErrUserNotFound, or
// storage.ErrTokenCollision. The previous token no longer authenticates.
func (r *UserRepository) RotateToken(ctx context.Context, username, token string) (storage.User, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE users SET token_digest = $1 WHERE username = $2
		 RETURNING `+userColumns,
		r.digest.Digest(token), username,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.User{}, storage.ErrUserNotFound
		}
		if mapped := mapUniqueViolation(err); mapped != nil {
			return storage.User{}, mapped
		}
		return storage.User{}, fmt.Errorf("rotating token: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (storage.User, error) {
	var (
		u         storage.User
		lastLogin *time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &u.TokenDigest, &u.Balance, &u.MachineAddress, &lastLogin, &u.CreatedAt)
	if err != nil {
		return storage.User{}, err
	}
	if lastLogin != nil {
		u.LastLogin = *lastLogin
	}
	return u, nil
}

// mapUniqueViolation translates a unique constraint violation into the
// matching storage sentinel, or returns nil.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case constraintUsername:
		return storage.ErrUserExists
	case constraintTokenDigest:
		return storage.ErrTokenCollision
	default:
		return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, err)
	}
}
