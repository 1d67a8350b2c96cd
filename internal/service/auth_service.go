package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// APIKeyStore persists ingest API keys.
type APIKeyStore interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	List(ctx context.Context) ([]*domain.APIKey, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AuthOptions configure operator login and API key issuance.
type AuthOptions struct {
	JWTSecret string
	TokenTTL  time.Duration

	// OperatorUser and OperatorPasswordHash are the single operator
	// account, provisioned through configuration. The hash is bcrypt.
	OperatorUser         string
	OperatorPasswordHash string

	APIKeySalt string
	BcryptCost int
}

// TokenClaims are the JWT claims issued to a logged-in operator.
type TokenClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService issues operator tokens and manages the ingest API keys.
type AuthService struct {
	logger *zap.Logger
	keys   APIKeyStore
	clock  domain.Clock
	opts   AuthOptions
}

// NewAuthService creates a new auth service
func NewAuthService(logger *zap.Logger, keys APIKeyStore, clock domain.Clock, opts AuthOptions) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &AuthService{
		logger: logger,
		keys:   keys,
		clock:  clock,
		opts:   opts,
	}
}

// Login verifies the operator credentials and issues a signed token.
func (s *AuthService) Login(_ context.Context, username, password string) (string, time.Time, error) {
	if username != s.opts.OperatorUser {
		return "", time.Time{}, domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.opts.OperatorPasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, domain.ErrUnauthorized
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.opts.TokenTTL)
	claims := TokenClaims{
		Name: username,
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    "pipeguard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	s.logger.Info("operator logged in", zap.String("user", username))
	return token, expiresAt, nil
}

// VerifyToken parses and validates an operator token. Used by transports
// that cannot carry an Authorization header, such as the event stream.
func (s *AuthService) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.opts.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

// HashAPIKey derives the deterministic storage hash of a raw key. The
// same derivation runs at issue time and on every lookup.
func HashAPIKey(rawKey, salt string) string {
	h := sha256.New()
	h.Write([]byte(rawKey))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// CreateAPIKey mints a new ingest key. The raw key is returned exactly
// once; only its hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, name string, scopes []string, expiresAt *time.Time) (*domain.APIKey, string, error) {
	if name == "" {
		return nil, "", domain.NewValidationError("name", "name is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating key material: %w", err)
	}
	rawKey := "pg_" + hex.EncodeToString(raw)

	key := &domain.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   HashAPIKey(rawKey, s.opts.APIKeySalt),
		KeyPrefix: rawKey[:11],
		Scopes:    scopes,
		CreatedAt: s.clock.Now(),
	}
	if expiresAt != nil {
		key.ExpiresAt.Valid = true
		key.ExpiresAt.Time = *expiresAt
	}

	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("storing api key: %w", err)
	}

	s.logger.Info("api key created",
		zap.String("key_id", key.ID.String()),
		zap.String("name", name),
		zap.Strings("scopes", scopes),
	)
	return key, rawKey, nil
}

// ListAPIKeys returns every issued key.
func (s *AuthService) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return s.keys.List(ctx)
}

// RevokeAPIKey deletes a key.
func (s *AuthService) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return s.keys.Delete(ctx, id)
}

// ValidateAPIKey authenticates a raw ingest key: hash lookup, expiry
// check, and an async last-used stamp.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*domain.APIKey, error) {
	key, err := s.keys.GetByHash(ctx, HashAPIKey(rawKey, s.opts.APIKeySalt))
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	now := s.clock.Now()
	if key.Expired(now) {
		return nil, domain.ErrUnauthorized
	}

	go func() {
		if err := s.keys.UpdateLastUsed(context.Background(), key.ID, now); err != nil {
			s.logger.Warn("failed to stamp api key last use", zap.Error(err))
		}
	}()

	return key, nil
}
