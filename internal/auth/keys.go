package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
)

// KeyManager holds the ECDSA P-256 keypair used to sign access tokens.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey
	kid        string // base58 SHA-256 of the public key DER
}

// NewKeyManager creates a KeyManager with a fresh keypair. Tokens signed by it do not
// survive a restart; production deployments load a key with LoadKeyManager.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	return newKeyManager(privateKey)
}

// LoadKeyManager creates a KeyManager from a PEM encoded EC private key.
func LoadKeyManager(pemBytes []byte) (*KeyManager, error) {
	privateKey, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must use P-256, got %s", privateKey.Curve.Params().Name)
	}
	return newKeyManager(privateKey)
}

func newKeyManager(privateKey *ecdsa.PrivateKey) (*KeyManager, error) {
	pubKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	hash := sha256.Sum256(pubKeyDER)

	return &KeyManager{
		privateKey: privateKey,
		kid:        base58.Encode(hash[:]),
	}, nil
}

// GeneratePrivateKeyPEM returns a new PEM encoded P-256 private key.
func GeneratePrivateKeyPEM() ([]byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// Kid returns the key ID.
func (km *KeyManager) Kid() string {
	return km.kid
}

// PublicKey returns the verification key.
func (km *KeyManager) PublicKey() *ecdsa.PublicKey {
	return &km.privateKey.PublicKey
}

// SignJWT signs claims with ES256 and sets the kid header.
func (km *KeyManager) SignJWT(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = km.kid

	tokenString, err := token.SignedString(km.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// JWK returns the public key in JWK format.
func (km *KeyManager) JWK() (map[string]any, error) {
	pub, err := km.privateKey.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}

	// uncompressed point: 0x04 || X || Y
	point := pub.Bytes()
	size := (len(point) - 1) / 2

	return map[string]any{
		"kty": "EC",
		"use": "sig",
		"crv": "P-256",
		"kid": km.kid,
		"x":   base64.RawURLEncoding.EncodeToString(point[1 : 1+size]),
		"y":   base64.RawURLEncoding.EncodeToString(point[1+size:]),
		"alg": "ES256",
	}, nil
}
