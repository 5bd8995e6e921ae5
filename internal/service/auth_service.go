package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"otp-auth/internal/domain"
	"otp-auth/internal/notify"
	"otp-auth/internal/otp"
	"otp-auth/internal/repository"
	"otp-auth/internal/token"
)

var (
	// ErrInvalidInput indicates a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserAlreadyExists is returned when attempting to sign up with a registered email.
	ErrUserAlreadyExists = errors.New("email already registered")
	// ErrInvalidAdminKey indicates an admin signup with a wrong or missing admin key.
	ErrInvalidAdminKey = errors.New("invalid admin secret key")
	ErrUserNotFound    = errors.New("user not found")
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotVerified        = errors.New("email not verified")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	// ErrDeliveryFailed is returned when the verification email could not be sent.
	ErrDeliveryFailed = errors.New("failed to send verification email")
)

// SignupInput carries the fields accepted at registration.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	AdminKey string
}

// LoginResult is the sanitized user plus a fresh token pair.
type LoginResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

// AuthService describes the account lifecycle operations.
type AuthService interface {
	Signup(ctx context.Context, in SignupInput) (*domain.User, error)
	VerifyOTP(ctx context.Context, email, code string) (*domain.User, error)
	ResendOTP(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
	Logout(ctx context.Context, userID string) error
	GetProfile(ctx context.Context, userID string) (*domain.User, error)
}

type AuthConfig struct {
	AdminKey   string
	BcryptCost int
}

type authService struct {
	users      repository.UserRepository
	tokens     *token.Service
	otps       *otp.Engine
	notifier   notify.Notifier
	adminKey   string
	bcryptCost int
	logger     logrus.FieldLogger
}

func NewAuthService(users repository.UserRepository, tokens *token.Service, otps *otp.Engine, notifier notify.Notifier, cfg AuthConfig, logger logrus.FieldLogger) AuthService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &authService{
		users:      users,
		tokens:     tokens,
		otps:       otps,
		notifier:   notifier,
		adminKey:   strings.TrimSpace(cfg.AdminKey),
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

func (s *authService) Signup(ctx context.Context, in SignupInput) (*domain.User, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	switch role {
	case domain.RoleAdmin:
		if !s.adminKeyMatches(in.AdminKey) {
			s.logger.WithField("email", email).Warn("admin signup rejected")
			return nil, ErrInvalidAdminKey
		}
	case domain.RoleUser:
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	code, err := s.otps.Issue(user)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{"user_id": user.ID, "email": email, "role": role})
	if err := s.notifier.SendOTP(ctx, user.Email, user.Name, code); err != nil {
		log.Warnf("send otp: %v", err)
		if delErr := s.users.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
			log.Errorf("rollback signup: %v", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	log.Info("user signed up")
	return sanitizeUser(user), nil
}

func (s *authService) VerifyOTP(ctx context.Context, email, code string) (*domain.User, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.IsVerified {
		return nil, ErrAlreadyVerified
	}
	if !s.otps.Verify(user, code) {
		return nil, ErrInvalidOTP
	}

	user.IsVerified = true
	s.otps.Clear(user)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("email verified")
	return sanitizeUser(user), nil
}

func (s *authService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}

	code, err := s.otps.Issue(user)
	if err != nil {
		return err
	}
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email})
	if err := s.notifier.SendOTP(ctx, user.Email, user.Name, code); err != nil {
		log.Warnf("resend otp: %v", err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	log.Info("otp resent")
	return nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsVerified {
		return nil, ErrNotVerified
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = pair.RefreshToken
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user logged in")
	return &LoginResult{
		User:         sanitizeUser(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrInvalidInput)
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(refreshToken)) != 1 {
		s.logger.WithField("user_id", user.ID).Warn("stale refresh token presented")
		return nil, ErrInvalidToken
	}

	pair, err := s.tokens.IssuePair(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	if err := s.users.ReplaceRefreshToken(ctx, user.ID, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenMismatch) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return &pair, nil
}

func (s *authService) Logout(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.RefreshToken == "" {
		return nil
	}

	user.RefreshToken = ""
	if err := s.users.Update(ctx, user); err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("update user: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Info("user logged out")
	return nil
}

func (s *authService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return sanitizeUser(user), nil
}

func (s *authService) userByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// adminKeyMatches is false whenever no admin key is configured.
func (s *authService) adminKeyMatches(provided string) bool {
	if s.adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(s.adminKey)) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// sanitizeUser returns a copy without credentials or OTP state.
func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := *user
	clean.PasswordHash = ""
	clean.OTPCode = 0
	clean.OTPExpiresAt = nil
	clean.RefreshToken = ""
	return &clean
}
