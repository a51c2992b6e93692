package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"time"

	"chat-backend/internal/mailer"
	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
)

var (
	ErrInvalidEmail         = errors.New("invalid email format")
	ErrInvalidCode          = errors.New("code must be 6 digits")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrUsernameRequired     = errors.New("username required for new users")
	ErrInvalidUsername      = errors.New("username must be 3-20 characters of letters, numbers, and underscores")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrDeliveryFailed       = errors.New("failed to deliver login code")
	ErrUnauthenticated      = errors.New("unauthenticated")
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern     = regexp.MustCompile(`^\d{6}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
)

// Service is the identity and session issuer: it hands out one-time login
// codes, verifies them, and mints bearer session tokens.
type Service struct {
	users  repositories.UserRepository
	otps   repositories.OTPRepository
	mailer mailer.Mailer
	tokens *TokenManager
}

// NewService constructs the identity service.
func NewService(users repositories.UserRepository, otps repositories.OTPRepository, sender mailer.Mailer, tokens *TokenManager) *Service {
	return &Service{users: users, otps: otps, mailer: sender, tokens: tokens}
}

// RequestCode issues a fresh 6-digit code to the email, invalidating any
// prior live code, and hands it to the mail collaborator. When delivery
// fails the stored code is rolled back so no undeliverable code stays live.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}

	code, err := generateCode()
	if err != nil {
		return err
	}

	if _, err := s.otps.ReplaceCode(ctx, email, code, time.Now().Add(models.OTPTTL)); err != nil {
		return err
	}

	if err := s.mailer.SendLoginCode(ctx, email, code); err != nil {
		if delErr := s.otps.DeleteCodesForEmail(ctx, email); delErr != nil {
			log.Printf("failed to roll back undelivered code for %s: %v", email, delErr)
		}
		return ErrDeliveryFailed
	}
	return nil
}

// VerifyCode consumes a one-time code and returns a session token plus the
// user profile. New emails require a username and create the account.
func (s *Service) VerifyCode(ctx context.Context, email, code, username string) (string, models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !codePattern.MatchString(code) {
		return "", models.User{}, ErrInvalidCode
	}

	// The consume is a single atomic delete-if-matching, so a code verifies
	// at most once even under concurrent attempts.
	if err := s.otps.ConsumeCode(ctx, email, code); err != nil {
		if errors.Is(err, repositories.ErrCodeNotFound) {
			return "", models.User{}, ErrInvalidOrExpiredCode
		}
		return "", models.User{}, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, repositories.ErrUserNotFound) {
		user, err = s.registerUser(ctx, email, username)
	}
	if err != nil {
		return "", models.User{}, err
	}

	token, err := s.tokens.Sign(user.ID)
	if err != nil {
		return "", models.User{}, err
	}
	return token, user, nil
}

func (s *Service) registerUser(ctx context.Context, email, username string) (models.User, error) {
	if username == "" {
		return models.User{}, ErrUsernameRequired
	}
	if !usernamePattern.MatchString(username) {
		return models.User{}, ErrInvalidUsername
	}

	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return models.User{}, ErrUsernameTaken
	} else if !errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, err
	}

	return s.users.CreateUser(ctx, email, username)
}

// ValidateToken resolves a bearer token to its live user.
func (s *Service) ValidateToken(ctx context.Context, token string) (models.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return models.User{}, ErrUnauthenticated
	}
	user, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return models.User{}, ErrUnauthenticated
	}
	return user, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

const inviteAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateInviteCode produces a 6-character upper-case invite code.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, 6)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(inviteAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = inviteAlphabet[n.Int64()]
	}
	return string(buf), nil
}
