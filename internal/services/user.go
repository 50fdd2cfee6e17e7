package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// UserService handles user-related business logic
type UserService struct {
	users    *repository.UserRepository
	clock    Clock
	settings Settings
}

// NewUserService creates a new user service
func NewUserService(users *repository.UserRepository, clock Clock, settings Settings) *UserService {
	return &UserService{
		users:    users,
		clock:    clock,
		settings: settings,
	}
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.AddDate(0, 0, s.settings.JWTExpiryDays).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.settings.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.settings.JWTSecret), nil
	}, jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// CreateUser creates a new user and issues its token
func (s *UserService) CreateUser(ctx context.Context, phoneNumber, displayName string) (*models.User, string, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, "", wrap(ErrInvalidArgument, errors.New("display name required"))
	}

	now := s.clock.Now().UTC()
	user := &models.User{
		PhoneNumber: strings.TrimSpace(phoneNumber),
		DisplayName: displayName,
		LastActive:  now,
		CreatedAt:   now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	log.Info().Str("user_id", user.ID).Msg("User created")
	return user, token, nil
}

// GetUser retrieves a user; a missing user is not authenticated
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return user, nil
}

// ProfileUpdate lists the profile fields to change; nil fields are kept
type ProfileUpdate struct {
	DisplayName *string      `json:"display_name,omitempty"`
	AvatarURL   *string      `json:"avatar_url,omitempty"`
	Mood        *models.Mood `json:"mood,omitempty"`
	FCMToken    *string      `json:"fcm_token,omitempty"`
}

// UpdateProfile applies a profile update and returns the user
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	fields := map[string]any{repository.UserFieldLastActive: s.clock.Now().UTC()}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, wrap(ErrInvalidArgument, errors.New("display name required"))
		}
		fields[repository.UserFieldDisplayName] = name
	}
	if upd.AvatarURL != nil {
		fields[repository.UserFieldAvatarURL] = *upd.AvatarURL
	}
	if upd.Mood != nil {
		if !upd.Mood.Valid() {
			return nil, wrap(ErrInvalidArgument, fmt.Errorf("unknown mood %q", *upd.Mood))
		}
		fields[repository.UserFieldMood] = *upd.Mood
	}
	if upd.FCMToken != nil {
		fields[repository.UserFieldFCMToken] = *upd.FCMToken
	}

	if err := s.users.Update(ctx, userID, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// UpdateMood shares a new mood with the partner
func (s *UserService) UpdateMood(ctx context.Context, userID string, mood models.Mood) (*models.User, error) {
	return s.UpdateProfile(ctx, userID, ProfileUpdate{Mood: &mood})
}

// UpdateFCMToken stores the device token used for notifications
func (s *UserService) UpdateFCMToken(ctx context.Context, userID, token string) (*models.User, error) {
	return s.UpdateProfile(ctx, userID, ProfileUpdate{FCMToken: &token})
}

// Touch records user activity
func (s *UserService) Touch(ctx context.Context, userID string) error {
	return s.users.Update(ctx, userID, map[string]any{repository.UserFieldLastActive: s.clock.Now().UTC()})
}
