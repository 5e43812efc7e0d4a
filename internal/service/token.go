package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrTokenExpired marks a correctly-signed token past its expiry. It is
	// the only verification failure that may trigger silent renewal.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid marks a malformed token or a bad signature. Never
	// recoverable: tampering or secret mismatch, not staleness.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenInvalidated marks a token explicitly blacklisted by logout.
	ErrTokenInvalidated = errors.New("token invalidated")
	// ErrInvalidCredentials is returned on password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims are the identity fields carried inside an access token.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService creates and verifies access tokens, generates refresh tokens,
// and hashes passwords. Access tokens are stateless HS256 JWTs; the only
// server-side revocation state is the logout blacklist, which is held in
// process memory. A horizontally-scaled deployment needs a shared revocation
// store instead, or logout only takes effect on the node that handled it.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int
	now        func() time.Time

	mu        sync.Mutex
	blacklist map[string]struct{}
}

// NewTokenService creates a TokenService. A nil clock defaults to time.Now.
// The same accessTTL is used by every issuing call site: login, registration,
// and renewal.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, bcryptCost int, clock func() time.Time) *TokenService {
	if clock == nil {
		clock = time.Now
	}
	if bcryptCost <= 0 {
		bcryptCost = 12
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		bcryptCost: bcryptCost,
		now:        clock,
		blacklist:  make(map[string]struct{}),
	}
}

// AccessTTL returns the access-token lifetime, used by cookie max-age.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh-token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// Now returns the service's current time, so persistence call sites share
// the injected clock.
func (s *TokenService) Now() time.Time { return s.now() }

// IssueAccessToken creates a signed access token for the given identity.
func (s *TokenService) IssueAccessToken(userID int64, email, role string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "authgate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyAccessToken validates a token and returns its claims. Failures are
// typed: ErrTokenExpired for genuine expiry, ErrTokenInvalidated for a
// blacklisted token, ErrTokenInvalid for everything else.
func (s *TokenService) VerifyAccessToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if s.isInvalidated(tokenStr) {
		return nil, ErrTokenInvalidated
	}

	return claims, nil
}

// NewRefreshToken generates an opaque refresh token: 64 bytes from the
// cryptographic RNG, hex encoded to 128 characters. The caller pairs it with
// a persisted record carrying the refresh TTL.
func (s *TokenService) NewRefreshToken() (string, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// HashPassword hashes a plaintext password with bcrypt.
func (s *TokenService) HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against a stored bcrypt hash.
func (s *TokenService) CheckPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Invalidate blacklists an access token after logout. The token keeps
// failing verification with ErrTokenInvalidated until it would have expired
// anyway and the entry becomes irrelevant.
func (s *TokenService) Invalidate(tokenStr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[tokenStr] = struct{}{}
}

func (s *TokenService) isInvalidated(tokenStr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[tokenStr]
	return ok
}
