package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"incomes/internal/core"
	"incomes/internal/log"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrWrongPassword      = errors.New("old password is incorrect")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", core.MinPasswordLen)
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
)

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// DefaultSources are created for the seeded admin account.
var DefaultSources = []core.IncomeSource{
	{Name: "银行卡", Icon: "💳", Active: true, SortOrder: 0},
	{Name: "微信", Icon: "💚", Active: true, SortOrder: 1},
	{Name: "股票", Icon: "📈", Active: true, SortOrder: 2},
}

// UserStore is the persistence the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUserByID(ctx context.Context, id int64) (core.User, error)
	GetUserByUsername(ctx context.Context, username string) (core.User, error)
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	CreateSource(ctx context.Context, s core.IncomeSource) (core.IncomeSource, error)
}

type Service struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
	logger *log.Logger
}

func NewService(store UserStore, secret string, ttl time.Duration, logger *log.Logger) *Service {
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger.WithComponent(log.ComponentAuth),
	}
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (string, core.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", core.User{}, ErrInvalidCredentials
		}
		return "", core.User{}, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		s.logger.WarnContext(ctx, "Login rejected", "username", username)
		return "", core.User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return "", core.User{}, ErrAccountDisabled
	}

	token, err := GenerateToken(user.ID, string(user.Role), s.secret, s.ttl)
	if err != nil {
		return "", core.User{}, fmt.Errorf("sign token: %w", err)
	}
	s.logger.InfoContext(ctx, "User logged in", log.FieldUserID, user.ID)
	return token, user, nil
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (core.User, error) {
	id, err := GetUserIDFromToken(token, s.secret)
	if err != nil {
		return core.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.User{}, ErrInvalidToken
		}
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return core.User{}, ErrAccountDisabled
	}
	return user, nil
}

// ChangePassword replaces the password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, oldPassword) {
		return ErrWrongPassword
	}
	return s.SetPassword(ctx, userID, newPassword)
}

// SetPassword replaces the password without checking the old one.
func (s *Service) SetPassword(ctx context.Context, userID int64, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Password changed", log.FieldUserID, userID)
	return nil
}

// EnsureAdmin creates the admin account and its default sources when the
// username does not exist yet. An existing account is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (core.User, error) {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, fmt.Errorf("look up admin: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return core.User{}, fmt.Errorf("hash admin password: %w", err)
	}
	admin, err := s.store.CreateUser(ctx, core.User{Username: username, PasswordHash: hash, Role: core.RoleAdmin})
	if err != nil {
		return core.User{}, err
	}

	for _, src := range DefaultSources {
		src.UserID = admin.ID
		if _, err := s.store.CreateSource(ctx, src); err != nil && !errors.Is(err, core.ErrDuplicateSource) {
			return admin, fmt.Errorf("create default source %s: %w", src.Name, err)
		}
	}

	s.logger.InfoContext(ctx, "Admin account created", "username", username, "sources", len(DefaultSources))
	return admin, nil
}

func ValidatePassword(p string) error {
	if len([]rune(p)) < core.MinPasswordLen {
		return ErrPasswordTooShort
	}
	if len(p) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}
