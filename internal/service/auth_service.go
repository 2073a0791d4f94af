package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("another session is already active")
	ErrPasscodeMismatch     = errors.New("passcode mismatch")
	ErrRefreshCodeMismatch  = errors.New("refresh code mismatch")
)

// TokenType distinguishes student vs teacher tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeTeacher TokenType = "teacher"
)

// Claims extends JWT standard claims with app-specific fields. Name and
// email are embedded so sheet creation does not need a user lookup.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

// AuthService handles authentication, JWT, and proctoring secrets.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyUnlockPasscode checks the cheat-flag unlock passcode against the
// configured bcrypt hash. The passcode is never stored in plaintext.
func (s *AuthService) VerifyUnlockPasscode(passcode string) error {
	if s.cfg.UnlockPasscodeHash == "" {
		return ErrPasscodeMismatch // No hash configured: nothing ever matches
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.UnlockPasscodeHash), []byte(passcode)); err != nil {
		return ErrPasscodeMismatch
	}
	return nil
}

// VerifyRefreshCode checks the question-set refresh code against the
// configured bcrypt hash.
func (s *AuthService) VerifyRefreshCode(code string) error {
	if s.cfg.RefreshCodeHash == "" {
		return ErrRefreshCodeMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.RefreshCodeHash), []byte(code)); err != nil {
		return ErrRefreshCodeMismatch
	}
	return nil
}

// GenerateToken creates a JWT for a user. Student tokens register a
// single-device session in Redis; a second login is rejected until the
// first session expires or is cleared.
func (s *AuthService) GenerateToken(ctx context.Context, user *model.User) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	tokenType := TokenTypeTeacher
	if user.Role == model.RoleStudent {
		tokenType = TokenTypeStudent

		sessionKey := config.CacheKey.UserSessionKey(user.ID.String())
		existing, err := s.rdb.Get(ctx, sessionKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("check session: %w", err)
		}
		if existing != "" {
			return "", ErrSessionAlreadyActive
		}
		if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
			return "", fmt.Errorf("store session: %w", err)
		}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: tokenType,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateStudentSession checks the token's JTI against the active session
// in Redis. A mismatch means the session was reset or superseded.
func (s *AuthService) ValidateStudentSession(ctx context.Context, userID uuid.UUID, jti string) error {
	sessionKey := config.CacheKey.UserSessionKey(userID.String())
	current, err := s.rdb.Get(ctx, sessionKey).Result()
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if current != jti {
		return errors.New("session superseded")
	}
	return nil
}

// ClearStudentSession removes the single-device session (logout).
func (s *AuthService) ClearStudentSession(ctx context.Context, userID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.UserSessionKey(userID.String())).Err()
}
