package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginReplaced      = errors.New("proctor logged in elsewhere")
)

// TokenType distinguishes proctor vs device tokens.
type TokenType string

const (
	TokenTypeProctor TokenType = "proctor"
	TokenTypeDevice  TokenType = "device"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	ProctorID   int       `json:"proctor_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`   // Device only
	CandidateID string    `json:"candidate_id,omitempty"` // Device only
}

// AuthService handles authentication, JWT, and proctor login tracking.
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

// GenerateProctorToken creates a proctor JWT and records its id in Redis. A
// new login replaces the previous one.
func (s *AuthService) GenerateProctorToken(ctx context.Context, proctorID int) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(proctorID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeProctor,
		ProctorID: proctorID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", err
	}

	key := config.CacheKey.ProctorLoginKey(proctorID)
	if err := s.rdb.Set(ctx, key, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store login: %w", err)
	}
	return signed, nil
}

// GenerateDeviceToken creates a token that lets one device sync one
// candidate in one session.
func (s *AuthService) GenerateDeviceToken(proctorID int, sessionID, candidateID string) (*model.DeviceTokenResponse, error) {
	now := time.Now()
	expires := now.Add(s.cfg.DeviceTokenExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   candidateID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType:   TokenTypeDevice,
		ProctorID:   proctorID,
		SessionID:   sessionID,
		CandidateID: candidateID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return nil, err
	}
	return &model.DeviceTokenResponse{
		Token:       signed,
		ResultID:    model.ResultID(candidateID, sessionID),
		CandidateID: candidateID,
		SessionID:   sessionID,
		ExpiresAt:   expires,
	}, nil
}

func (s *AuthService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
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

// ValidateProctorLogin checks that the token's JTI is the proctor's latest login.
func (s *AuthService) ValidateProctorLogin(ctx context.Context, proctorID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.ProctorLoginKey(proctorID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errors.New("no active login")
		}
		return fmt.Errorf("check login: %w", err)
	}
	if stored != jti {
		return ErrLoginReplaced
	}
	return nil
}

// Logout removes a proctor's login from Redis.
func (s *AuthService) Logout(ctx context.Context, proctorID int) error {
	return s.rdb.Del(ctx, config.CacheKey.ProctorLoginKey(proctorID)).Err()
}
