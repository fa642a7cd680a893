package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// tokenKeyInfo domain-separates the HMAC key from other uses of the
	// master secret.
	tokenKeyInfo = "huddle-bearer-token-v1"

	// DefaultTokenTTL is the lifetime of tokens minted by CreateToken.
	DefaultTokenTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the verified identity extracted from a bearer token.
type Claims struct {
	// Subject is the external subject id assigned by the identity provider.
	Subject string
	// Name is the optional display name claim.
	Name string
	// Picture is the optional avatar URL claim.
	Picture string
}

// Verifier validates bearer tokens.
type Verifier interface {
	VerifyToken(token string) (*Claims, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// JWTManager issues and verifies HS256 bearer tokens keyed from the server
// master secret.
type JWTManager struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewJWTManager derives the signing key from masterSecret.
func NewJWTManager(masterSecret string) (*JWTManager, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(tokenKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &JWTManager{key: key, issuer: "huddle", now: time.Now}, nil
}

// CreateToken mints a token for subject valid for ttl.
func (m *JWTManager) CreateToken(subject, name string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := m.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// VerifyToken validates signature, issuer and expiry.
func (m *JWTManager) VerifyToken(token string) (*Claims, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: claims.Subject, Name: claims.Name, Picture: claims.Picture}, nil
}
