package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, first_name, last_name, phone_number, date_of_birth, is_admin, created_at, updated_at`

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	Insert(ctx context.Context, user User) error
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate, at time.Time) (User, error)
	UpsertAdmin(ctx context.Context, user User) error
}

// Repository is the Postgres-backed UserRepository.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user  User
		phone sql.NullString
		dob   sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&phone,
		&dob,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	if phone.Valid {
		value := phone.String
		user.PhoneNumber = &value
	}
	if dob.Valid {
		value := dob.Time.UTC()
		user.DateOfBirth = &value
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()

	return user, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, storageError("query user by email", err)
	}
	return user, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, storageError("query user by id", err)
	}
	return user, nil
}

func (r *Repository) Insert(ctx context.Context, user User) error {
	return r.withTx(ctx, "insert user", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, first_name, last_name, phone_number, date_of_birth, is_admin, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
			nullableString(user.PhoneNumber), nullableTime(user.DateOfBirth), user.IsAdmin, user.CreatedAt, user.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	})
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	return r.withTx(ctx, "update password", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users
			SET password_hash = $2, updated_at = $3
			WHERE id = $1
		`, id, hash, at)
		if err != nil {
			return err
		}
		return requireOneRow(res)
	})
}

func (r *Repository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate, at time.Time) (User, error) {
	var user User
	err := r.withTx(ctx, "update profile", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE users
			SET first_name = COALESCE($2, first_name),
				last_name = COALESCE($3, last_name),
				phone_number = COALESCE($4, phone_number),
				date_of_birth = COALESCE($5, date_of_birth),
				updated_at = $6
			WHERE id = $1
			RETURNING `+userColumns,
			id, nullableString(update.FirstName), nullableString(update.LastName),
			nullableString(update.PhoneNumber), nullableTime(update.DateOfBirth), at)

		var err error
		user, err = scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	})
	return user, err
}

// UpsertAdmin creates the account or promotes an existing one and resets its password.
func (r *Repository) UpsertAdmin(ctx context.Context, user User) error {
	return r.withTx(ctx, "upsert admin", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, first_name, last_name, is_admin, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
			ON CONFLICT (email) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
				is_admin = TRUE,
				updated_at = EXCLUDED.updated_at
		`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.CreatedAt)
		return err
	})
}

// withTx runs fn in a transaction. Sentinel errors returned by fn pass through unwrapped.
func (r *Repository) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin "+op+" tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrUserNotFound) {
			return err
		}
		return storageError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit "+op+" tx", err)
	}
	return nil
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
