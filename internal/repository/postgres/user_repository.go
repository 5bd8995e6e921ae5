package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"otp-auth/internal/domain"
	"otp-auth/internal/repository"
)

const uniqueViolation = "23505"

const selectUserColumns = `SELECT id, name, email, password_hash, role, is_verified, otp_code, otp_expires_at, refresh_token, created_at, updated_at
		 FROM users`

// UserRepository implements repository.UserRepository over database/sql.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

// Init brings the schema up to date.
func (r *UserRepository) Init(ctx context.Context) error {
	return Migrate(ctx, r.db)
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query :=
		`INSERT INTO users (id, name, email, password_hash, role, is_verified, otp_code, otp_expires_at, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), user.IsVerified,
		user.OTPCode, nullTime(user.OTPExpiresAt), user.RefreshToken, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert user %s: %w", user.Email, repository.ErrUserExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := selectUserColumns + `
		 WHERE lower(email) = lower($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := selectUserColumns + `
		 WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query :=
		`UPDATE users
		 SET name = $1, password_hash = $2, role = $3, is_verified = $4, otp_code = $5, otp_expires_at = $6, refresh_token = $7, updated_at = $8
		 WHERE id = $9`

	res, err := r.db.ExecContext(ctx, query,
		user.Name, user.PasswordHash, string(user.Role), user.IsVerified, user.OTPCode,
		nullTime(user.OTPExpiresAt), user.RefreshToken, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res, repository.ErrUserNotFound)
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *UserRepository) ReplaceRefreshToken(ctx context.Context, id, expected, next string) error {
	query :=
		`UPDATE users
		 SET refresh_token = $1, updated_at = $2
		 WHERE id = $3 AND refresh_token = $4`

	res, err := r.db.ExecContext(ctx, query, next, time.Now().UTC(), id, expected)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res, repository.ErrRefreshTokenMismatch)
}

func expectAffected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		user      domain.User
		role      string
		otpExpiry sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &user.IsVerified,
		&user.OTPCode, &otpExpiry, &user.RefreshToken, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	user.Role = domain.Role(role)
	if otpExpiry.Valid {
		exp := otpExpiry.Time
		user.OTPExpiresAt = &exp
	}
	return &user, nil
}
