package auth

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/mocks"
	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
)

func newTestService(users *mocks.UserRepositoryMock, otps *mocks.OTPRepositoryMock, sender *mocks.MailerMock) *Service {
	return NewService(users, otps, sender, NewTokenManager("test-secret"))
}

func TestRequestCodeInvalidEmail(t *testing.T) {
	svc := newTestService(new(mocks.UserRepositoryMock), new(mocks.OTPRepositoryMock), new(mocks.MailerMock))

	err := svc.RequestCode(context.Background(), "not-an-email")
	require.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRequestCodeStoresAndSends(t *testing.T) {
	otps := new(mocks.OTPRepositoryMock)
	sender := new(mocks.MailerMock)
	svc := newTestService(new(mocks.UserRepositoryMock), otps, sender)

	var issued string
	otps.On("ReplaceCode", mock.Anything, "a@x.com", mock.MatchedBy(func(code string) bool {
		issued = code
		return regexp.MustCompile(`^\d{6}$`).MatchString(code)
	}), mock.Anything).Return(models.OneTimeCode{}, nil).Once()
	sender.On("SendLoginCode", mock.Anything, "a@x.com", mock.MatchedBy(func(code string) bool {
		return code == issued
	})).Return(nil).Once()

	require.NoError(t, svc.RequestCode(context.Background(), "A@X.com"))
	otps.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestRequestCodeDeliveryFailureRollsBack(t *testing.T) {
	otps := new(mocks.OTPRepositoryMock)
	sender := new(mocks.MailerMock)
	svc := newTestService(new(mocks.UserRepositoryMock), otps, sender)

	otps.On("ReplaceCode", mock.Anything, "a@x.com", mock.Anything, mock.Anything).
		Return(models.OneTimeCode{}, nil).Once()
	sender.On("SendLoginCode", mock.Anything, "a@x.com", mock.Anything).Return(assert.AnError).Once()
	otps.On("DeleteCodesForEmail", mock.Anything, "a@x.com").Return(nil).Once()

	err := svc.RequestCode(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	otps.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestVerifyCodeRejectsBadShape(t *testing.T) {
	svc := newTestService(new(mocks.UserRepositoryMock), new(mocks.OTPRepositoryMock), new(mocks.MailerMock))

	_, _, err := svc.VerifyCode(context.Background(), "a@x.com", "12345", "")
	require.ErrorIs(t, err, ErrInvalidCode)

	_, _, err = svc.VerifyCode(context.Background(), "a@x.com", "12345a", "")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyCodeConsumedOnce(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	otps := new(mocks.OTPRepositoryMock)
	svc := newTestService(users, otps, new(mocks.MailerMock))

	otps.On("ConsumeCode", mock.Anything, "a@x.com", "482913").Return(nil).Once()
	otps.On("ConsumeCode", mock.Anything, "a@x.com", "482913").Return(repositories.ErrCodeNotFound).Once()
	users.On("GetUserByEmail", mock.Anything, "a@x.com").
		Return(models.User{ID: "u1", Email: "a@x.com", Username: "alice"}, nil).Once()

	token, user, err := svc.VerifyCode(context.Background(), "a@x.com", "482913", "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "u1", user.ID)

	_, _, err = svc.VerifyCode(context.Background(), "a@x.com", "482913", "")
	require.ErrorIs(t, err, ErrInvalidOrExpiredCode)
	otps.AssertExpectations(t)
}

func TestVerifyCodeCreatesUser(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	otps := new(mocks.OTPRepositoryMock)
	svc := newTestService(users, otps, new(mocks.MailerMock))

	otps.On("ConsumeCode", mock.Anything, "a@x.com", "482913").Return(nil).Once()
	users.On("GetUserByEmail", mock.Anything, "a@x.com").Return(models.User{}, repositories.ErrUserNotFound).Once()
	users.On("GetUserByUsername", mock.Anything, "alice").Return(models.User{}, repositories.ErrUserNotFound).Once()
	users.On("CreateUser", mock.Anything, "a@x.com", "alice").
		Return(models.User{ID: "u1", Email: "a@x.com", Username: "alice"}, nil).Once()

	token, user, err := svc.VerifyCode(context.Background(), "a@x.com", "482913", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "alice", user.Username)
	users.AssertExpectations(t)
}

func TestVerifyCodeUsernameRules(t *testing.T) {
	cases := []struct {
		name     string
		username string
		want     error
	}{
		{"missing", "", ErrUsernameRequired},
		{"too short", "ab", ErrInvalidUsername},
		{"bad chars", "bad name!", ErrInvalidUsername},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := new(mocks.UserRepositoryMock)
			otps := new(mocks.OTPRepositoryMock)
			svc := newTestService(users, otps, new(mocks.MailerMock))

			otps.On("ConsumeCode", mock.Anything, "a@x.com", "482913").Return(nil).Once()
			users.On("GetUserByEmail", mock.Anything, "a@x.com").Return(models.User{}, repositories.ErrUserNotFound).Once()

			_, _, err := svc.VerifyCode(context.Background(), "a@x.com", "482913", tc.username)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifyCodeUsernameTaken(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	otps := new(mocks.OTPRepositoryMock)
	svc := newTestService(users, otps, new(mocks.MailerMock))

	otps.On("ConsumeCode", mock.Anything, "a@x.com", "482913").Return(nil).Once()
	users.On("GetUserByEmail", mock.Anything, "a@x.com").Return(models.User{}, repositories.ErrUserNotFound).Once()
	users.On("GetUserByUsername", mock.Anything, "alice").
		Return(models.User{ID: "other", Username: "alice"}, nil).Once()

	_, _, err := svc.VerifyCode(context.Background(), "a@x.com", "482913", "alice")
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestValidateToken(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := newTestService(users, new(mocks.OTPRepositoryMock), new(mocks.MailerMock))

	signed, err := svc.tokens.Sign("u1")
	require.NoError(t, err)

	users.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil).Once()
	user, err := svc.ValidateToken(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = svc.ValidateToken(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidateTokenUserGone(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := newTestService(users, new(mocks.OTPRepositoryMock), new(mocks.MailerMock))

	signed, err := svc.tokens.Sign("u1")
	require.NoError(t, err)

	users.On("GetUser", mock.Anything, "u1").Return(models.User{}, repositories.ErrUserNotFound).Once()
	_, err = svc.ValidateToken(context.Background(), signed)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGenerateInviteCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		code, err := GenerateInviteCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9A-Z]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}
