package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"aca_backend/internal/common"
	"aca_backend/internal/common/security"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
)

type AuthService struct {
	userRepo repository.UserRepository
}

func NewAuthService(userRepo repository.UserRepository) *AuthService {
	return &AuthService{userRepo: userRepo}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

var errInvalidCredentials = common.NewClientError(common.ErrUnauthorized, "Invalid credentials")

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, common.NewClientError(common.ErrBadRequest, "Missing fields")
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Email:          email,
		HashedPassword: hashedPassword,
		Role:           model.NormalizeRole(req.Role),
	}
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.WrapClientError(common.ErrBadRequest, "User already exists", err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("INFO: registered %s user %d", user.Role, user.ID)
	user.HashedPassword = ""
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, errInvalidCredentials
	}

	user, err := s.userRepo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, user.HashedPassword) {
		return nil, errInvalidCredentials
	}

	token, err := security.GenerateToken(model.Identity{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &LoginResponse{Token: token}, nil
}
