package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the access token claims. SessionID ties the token to a revocable session.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies ES256 access tokens.
type TokenIssuer struct {
	keys   *KeyManager
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. issuer is the iss claim, typically the public base URL.
func NewTokenIssuer(keys *KeyManager, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		keys:   keys,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the user's session and returns it with its expiry.
func (t *TokenIssuer) Issue(userID, sessionID uuid.UUID) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	tokenString, err := t.keys.SignJWT(&Claims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Verify checks the signature, issuer and expiry of a token and returns its principal.
func (t *TokenIssuer) Verify(tokenString string) (*Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if kid, _ := token.Header["kid"].(string); kid != t.keys.Kid() {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return t.keys.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub claim: %w", err)
	}

	if claims.SessionID == "" {
		return nil, errors.New("missing sid claim")
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid sid claim: %w", err)
	}

	return &Principal{UserID: userID, SessionID: sessionID, Method: MethodBearer}, nil
}
