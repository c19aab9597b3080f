package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/validate"
	"go.uber.org/zap"
)

type AccountService struct {
	db       *sqlx.DB
	notifier Notifier
	issuer   *auth.Issuer
	logger   *zap.Logger
	opts     Options
	cfg      config.AuthConfig
	now      func() time.Time
}

func NewAccountService(db *sqlx.DB, notifier Notifier, issuer *auth.Issuer, logger *zap.Logger, cfg config.AuthConfig, opts Options) *AccountService {
	return &AccountService{
		db:       db,
		notifier: notifier,
		issuer:   issuer,
		logger:   logger.Named("accounts"),
		opts:     opts,
		cfg:      cfg,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	PasswordConfirm  string `json:"password_confirm"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	RecoveryQuestion string `json:"recovery_question"`
	RecoveryAnswer   string `json:"recovery_answer"`
}

func (in RegisterInput) validate() error {
	checks := []error{
		validate.Username(in.Username),
		validate.Email(in.Email),
		validate.PasswordPair(in.Password, in.PasswordConfirm),
		validate.RecoveryQuestion(in.RecoveryQuestion),
		validate.RecoveryAnswer(in.RecoveryAnswer),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func verificationKey(email string) string {
	return strings.ToLower(email)
}

// Register creates an unverified account and mails a verification code.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	answerHash, err := auth.HashRecoveryAnswer(in.RecoveryAnswer)
	if err != nil {
		return nil, err
	}
	code, err := auth.NewVerificationCode()
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		var err error
		user, err = store.CreateUser(ctx, tx, store.NewUser{
			Username:           in.Username,
			Email:              in.Email,
			FirstName:          in.FirstName,
			LastName:           in.LastName,
			PasswordHash:       passwordHash,
			RecoveryQuestion:   in.RecoveryQuestion,
			RecoveryAnswerHash: answerHash,
		})
		if err != nil {
			return err
		}

		if err := store.PutToken(ctx, tx, store.TokenEmailVerification, verificationKey(user.Email), code, s.cfg.VerificationCodeTTL); err != nil {
			return err
		}

		box.add(notify.KindUserRegistered, notify.UserRegistered{UserID: user.ID, Username: user.Username, Email: user.Email})
		box.add(notify.KindEmailVerification, notify.EmailVerification{Email: user.Email, Code: code})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// VerifyEmail consumes the code mailed at registration. Verifying an
// already verified address succeeds without a code check. Each wrong code
// counts against the live one, which stops working after MaxCodeAttempts
// misses until a new code is requested.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) error {
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		user, err := store.GetUserByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if user.IsEmailVerified {
			return nil
		}

		if err := store.ConsumeMatchingToken(ctx, tx, store.TokenEmailVerification, verificationKey(user.Email), code); err != nil {
			return err
		}
		return store.MarkEmailVerified(ctx, tx, user.ID)
	})
	if !errors.Is(err, database.ErrInvalidToken) {
		return err
	}

	// Recorded outside the failed transaction so the miss survives its rollback.
	burned, missErr := store.RecordTokenMiss(ctx, s.db, store.TokenEmailVerification, verificationKey(email), s.cfg.MaxCodeAttempts)
	if missErr != nil {
		return missErr
	}
	if burned {
		s.logger.Warn("verification code burned", zap.String("email", email))
	}
	return err
}

// ResendVerification issues a fresh code, replacing the previous one. It
// does nothing for verified addresses and reports whether a code was sent.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (bool, error) {
	user, err := store.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		return false, err
	}
	if user.IsEmailVerified {
		return false, nil
	}

	code, err := auth.NewVerificationCode()
	if err != nil {
		return false, err
	}
	if err := store.PutToken(ctx, s.db, store.TokenEmailVerification, verificationKey(user.Email), code, s.cfg.VerificationCodeTTL); err != nil {
		return false, err
	}

	s.notifier.Notify(notify.KindEmailVerification, notify.EmailVerification{Email: user.Email, Code: code})
	return true, nil
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login checks credentials by username or email. Repeated failures lock the
// account for the configured lockout.
func (s *AccountService) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	user, err := store.GetUserByLogin(ctx, s.db, login)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, database.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.IsLocked(s.now()) {
		return nil, fmt.Errorf("%w until %s", database.ErrAccountLocked, user.LockedUntil.UTC().Format(time.RFC3339))
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		lockedUntil, err := store.RecordLoginFailure(ctx, s.db, user.ID, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration)
		if err != nil {
			return nil, err
		}
		if lockedUntil != nil && lockedUntil.After(s.now()) {
			s.logger.Warn("account locked", zap.Int64("user_id", user.ID), zap.Time("until", *lockedUntil))
			return nil, fmt.Errorf("%w until %s", database.ErrAccountLocked, lockedUntil.UTC().Format(time.RFC3339))
		}
		return nil, database.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := store.ResetLoginFailures(ctx, s.db, user.ID); err != nil {
			return nil, err
		}
	}

	token, expiresAt, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.Int64("user_id", user.ID))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// RequestPasswordReset mails a single-use reset token when answer matches
// the account's recovery answer.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email, answer string) error {
	user, err := store.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		return err
	}
	if !auth.CheckRecoveryAnswer(user.RecoveryAnswerHash, answer) {
		return database.ErrInvalidRecoveryAnswer
	}

	token, err := auth.NewResetToken()
	if err != nil {
		return err
	}
	if err := store.PutToken(ctx, s.db, store.TokenPasswordReset, token, strconv.FormatInt(user.ID, 10), s.cfg.PasswordResetTTL); err != nil {
		return err
	}

	s.notifier.Notify(notify.KindPasswordReset, notify.PasswordReset{
		Username:  user.Username,
		Email:     user.Email,
		Token:     token,
		ExpiresIn: s.cfg.PasswordResetTTL,
	})
	return nil
}

func (s *AccountService) ConfirmPasswordReset(ctx context.Context, token, password, confirm string) error {
	if err := validate.PasswordPair(password, confirm); err != nil {
		return err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	return runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		value, err := store.ConsumeToken(ctx, tx, store.TokenPasswordReset, token)
		if err != nil {
			return err
		}
		userID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return database.ErrInvalidToken
		}
		return store.SetPassword(ctx, tx, userID, passwordHash)
	})
}

func (s *AccountService) Profile(ctx context.Context, actor auth.Identity) (*models.User, error) {
	return store.GetUser(ctx, s.db, actor.UserID)
}

func (s *AccountService) ChangePassword(ctx context.Context, actor auth.Identity, current, password, confirm string) error {
	user, err := store.GetUser(ctx, s.db, actor.UserID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(user.PasswordHash, current) {
		return database.ErrInvalidCredentials
	}
	if err := validate.PasswordPair(password, confirm); err != nil {
		return err
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return store.SetPassword(ctx, s.db, user.ID, passwordHash)
}

func (s *AccountService) ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	page, pageSize = store.NormalizePage(page, pageSize)
	return store.ListUsers(ctx, s.db, page, pageSize)
}
