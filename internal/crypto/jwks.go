package crypto

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/golang-jwt/jwt/v5"
)

// idpClaims covers the OpenID Connect claims we read from an external
// identity provider.
type idpClaims struct {
	jwt.RegisteredClaims
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

// JWKSVerifier validates tokens signed by an external identity provider whose
// keys are published as a JWKS document.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewJWKSVerifier fetches the key set and keeps it refreshed in the
// background. An empty issuer disables the issuer check.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warnf("JWKS refresh error: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS %s: %w", jwksURL, err)
	}
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

// VerifyToken validates the token against the provider keys.
func (v *JWKSVerifier) VerifyToken(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &idpClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return &Claims{Subject: claims.Subject, Name: name, Picture: claims.Picture}, nil
}

// Close stops the background refresh goroutine.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}
