package models

import "time"

// OneTimeCode is a short-lived numeric credential proving control of an
// email address. At most one unexpired code exists per email.
type OneTimeCode struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Code      string    `db:"otp" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OTPTTL is how long an issued code stays valid.
const OTPTTL = 5 * time.Minute
