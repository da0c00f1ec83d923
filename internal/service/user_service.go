package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/internal/repository"
	"ngmc-chatbot-go/pkg/hash"
	"ngmc-chatbot-go/pkg/log"
	"ngmc-chatbot-go/pkg/token"
)

// UserService handles registration through check-auth and credential checks.
type UserService interface {
	CheckAuth(ctx context.Context, in CheckAuthInput) (*CheckAuthResult, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	AuthenticateToken(ctx context.Context, tokenString string) (*model.User, error)
}

// CheckAuthInput is the trimmed check-auth request body.
type CheckAuthInput struct {
	APIKey   string
	UserName string
	Email    string
	Password string
}

// CheckAuthResult reports whether a user was created. Token is set when the
// password verified and token signing is configured.
type CheckAuthResult struct {
	User    *model.User
	Created bool
	Token   string
}

type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
	apiKey     string
}

// NewUserService creates a UserService. apiKey guards check-auth; an empty key rejects every call.
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, apiKey string) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		apiKey:     apiKey,
	}
}

// CheckAuth creates the user on first sight of an email and is a no-op afterwards.
func (s *userService) CheckAuth(ctx context.Context, in CheckAuthInput) (*CheckAuthResult, error) {
	if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(in.APIKey), []byte(s.apiKey)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	if err := ValidateUserData(in.UserName, in.Email, in.Password); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return s.existingUser(existing, in.Password), nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		UserName:     in.UserName,
		Email:        in.Email,
		PasswordHash: hashed,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// lost a race with a concurrent check-auth for the same email
		existing, err := s.userRepo.FindByEmail(ctx, in.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		return s.existingUser(existing, in.Password), nil
	}

	log.Infow("user created", "user_id", user.ID)
	return &CheckAuthResult{User: user, Created: true, Token: s.issueToken(user)}, nil
}

func (s *userService) existingUser(user *model.User, password string) *CheckAuthResult {
	res := &CheckAuthResult{User: user}
	if hash.CheckPasswordHash(password, user.PasswordHash) {
		res.Token = s.issueToken(user)
	}
	return res
}

func (s *userService) issueToken(user *model.User) string {
	if !s.jwtManager.Enabled() {
		return ""
	}
	tok, err := s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		log.Errorf("failed to issue token for user %s: %v", user.ID, err)
		return ""
	}
	return tok
}

// Authenticate resolves the user owning email and verifies password against the stored hash.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !hash.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// AuthenticateToken resolves the user a bearer token was issued to.
func (s *userService) AuthenticateToken(ctx context.Context, tokenString string) (*model.User, error) {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}
