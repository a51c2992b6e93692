package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-backend/internal/models"
)

var ErrCodeNotFound = errors.New("code not found or expired")

// OTPRepository abstracts one-time code persistence.
type OTPRepository interface {
	ReplaceCode(ctx context.Context, email, code string, expiresAt time.Time) (models.OneTimeCode, error)
	ConsumeCode(ctx context.Context, email, code string) error
	DeleteCodesForEmail(ctx context.Context, email string) error
	DeleteExpiredCodes(ctx context.Context) (int64, error)
}

// OTPRepo is a sqlx implementation of OTPRepository.
type OTPRepo struct {
	db *sqlx.DB
}

// NewOTPRepo constructs an OTPRepo.
func NewOTPRepo(db *sqlx.DB) *OTPRepo {
	return &OTPRepo{db: db}
}

// ReplaceCode invalidates any prior codes for the email and stores the new
// one, in a single transaction. Upholds the at-most-one-live-code invariant.
func (r *OTPRepo) ReplaceCode(ctx context.Context, email, code string, expiresAt time.Time) (models.OneTimeCode, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.OneTimeCode{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM otps WHERE email=$1`, email); err != nil {
		return models.OneTimeCode{}, err
	}

	var otp models.OneTimeCode
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO otps (id, email, otp, expires_at) VALUES ($1, $2, $3, $4)
         RETURNING id, email, otp, expires_at, created_at`,
		uuid.NewString(), email, code, expiresAt).StructScan(&otp); err != nil {
		return models.OneTimeCode{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.OneTimeCode{}, err
	}
	return otp, nil
}

// ConsumeCode deletes a matching unexpired (email, code) pair. The delete is
// the verification: a second consume of the same code fails, which makes
// replay impossible.
func (r *OTPRepo) ConsumeCode(ctx context.Context, email, code string) error {
	var id string
	err := r.db.GetContext(ctx, &id,
		`DELETE FROM otps WHERE email=$1 AND otp=$2 AND expires_at > NOW() RETURNING id`,
		email, code)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCodeNotFound
	}
	return err
}

// DeleteCodesForEmail removes every code issued to the email.
func (r *OTPRepo) DeleteCodesForEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE email=$1`, email)
	return err
}

// DeleteExpiredCodes clears codes past their expiry. Run periodically.
func (r *OTPRepo) DeleteExpiredCodes(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
