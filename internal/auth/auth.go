// Package auth implements signup, login and password reset against the
// document store. A successful signup creates both the profile document and
// an empty chat index document, so every other component can assume the
// index exists for any authenticated user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("auth: username already taken")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidUsername    = errors.New("auth: username must be 3-20 lowercase letters, digits or underscores")
	ErrWeakPassword       = errors.New("auth: password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailNotFound      = errors.New("auth: email doesn't exist")
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

const defaultBio = "Hey there i am using chat app"

type Service struct {
	store  store.Store
	tokens *TokenManager
	log    *zap.SugaredLogger
}

func NewService(st store.Store, tokens *TokenManager, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: st, tokens: tokens, log: log}
}

// SignUp registers a new account. Username uniqueness is enforced by an
// existence query before the write; two simultaneous signups with the same
// name can both pass the check, and the later profile write wins.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (*models.User, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(username) {
		return nil, "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, "", ErrWeakPassword
	}

	var existing models.User
	if err := s.store.FindByField(ctx, store.Users, "username", username, &existing); err == nil {
		return nil, "", ErrUsernameTaken
	} else if err != store.ErrNotFound {
		return nil, "", err
	}
	if err := s.store.FindByField(ctx, store.Users, "email", email, &existing); err == nil {
		return nil, "", ErrEmailTaken
	} else if err != store.ErrNotFound {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	now := models.NowMillis()
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		Bio:          defaultBio,
		LastSeen:     now,
		CreatedAt:    now,
		Settings:     models.DefaultSettings(),
		PasswordHash: string(hash),
	}
	if err := s.store.Set(ctx, store.Users, user.ID, &user); err != nil {
		return nil, "", fmt.Errorf("create profile: %w", err)
	}
	if err := s.store.Set(ctx, store.Chats, user.ID, &models.ChatIndex{ChatData: []models.ChatIndexEntry{}}); err != nil {
		return nil, "", fmt.Errorf("create chat index: %w", err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Infow("account created", "user", user.ID, "username", username)
	return &user, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	var user models.User
	if err := s.store.FindByField(ctx, store.Users, "email", email, &user); err != nil {
		if err == store.ErrNotFound {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// ResetPassword checks the email exists and issues a one-hour reset token.
// Mail delivery happens outside this service; the token is returned so the
// caller can hand it to whatever sends the mail.
func (s *Service) ResetPassword(ctx context.Context, email string) (string, error) {
	var user models.User
	if err := s.store.FindByField(ctx, store.Users, "email", email, &user); err != nil {
		if err == store.ErrNotFound {
			return "", ErrEmailNotFound
		}
		return "", err
	}
	token := uuid.NewString()
	err := s.store.Merge(ctx, store.Users, user.ID, map[string]any{
		"resetToken":        token,
		"resetTokenExpires": models.NowMillis() + int64(3600_000),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// CompletePasswordReset consumes a reset token and stores the new hash.
func (s *Service) CompletePasswordReset(ctx context.Context, email, token, newPassword string) error {
	if len(newPassword) < 6 {
		return ErrWeakPassword
	}
	var user struct {
		models.User       `bson:",inline"`
		ResetToken        string `bson:"resetToken"`
		ResetTokenExpires int64  `bson:"resetTokenExpires"`
	}
	if err := s.store.FindByField(ctx, store.Users, "email", email, &user); err != nil {
		if err == store.ErrNotFound {
			return ErrEmailNotFound
		}
		return err
	}
	if user.ResetToken == "" || user.ResetToken != token || user.ResetTokenExpires < models.NowMillis() {
		return ErrInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.Merge(ctx, store.Users, user.ID, map[string]any{
		"passwordHash": string(hash),
		"resetToken":   "",
	})
}

// VerifyToken resolves a session token to its user id.
func (s *Service) VerifyToken(token string) (string, error) {
	return s.tokens.Parse(token)
}
