package invitation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
)

// Signature failures. All of them match apperr.ErrForbidden.
var (
	ErrUnsigned         = fmt.Errorf("%w: url is not signed", apperr.ErrForbidden)
	ErrInvalidSignature = fmt.Errorf("%w: invalid url signature", apperr.ErrForbidden)
	ErrLinkExpired      = fmt.Errorf("%w: url signature expired", apperr.ErrForbidden)
)

// MinSecretLength is the minimum URL signing secret size in bytes.
const MinSecretLength = 32

// URLSigner produces and checks time-bounded HMAC signed URLs. The signature covers the path
// and the expires parameter so neither can be changed without invalidating it.
type URLSigner struct {
	secret []byte
	now    func() time.Time
}

// NewURLSigner creates a signer.
func NewURLSigner(secret []byte) (*URLSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("url signing secret must be at least %d bytes", MinSecretLength)
	}
	return &URLSigner{secret: secret, now: time.Now}, nil
}

// Sign returns path with expires and signature query parameters.
func (s *URLSigner) Sign(path string, expires time.Time) string {
	exp := strconv.FormatInt(expires.Unix(), 10)

	q := url.Values{}
	q.Set("expires", exp)
	q.Set("signature", s.signature(path, exp))

	return path + "?" + q.Encode()
}

// Verify checks the signature and expiry of the query parameters presented for path.
func (s *URLSigner) Verify(path string, q url.Values) error {
	exp := q.Get("expires")
	sig := q.Get("signature")

	if exp == "" || sig == "" {
		return ErrUnsigned
	}

	received, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		log.Debug().Msg("Invalid url signature encoding")
		return ErrInvalidSignature
	}

	expected, _ := base64.RawURLEncoding.DecodeString(s.signature(path, exp))
	if !hmac.Equal(received, expected) {
		log.Debug().Str("path", path).Msg("URL signature validation failed")
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().After(time.Unix(unix, 0)) {
		return ErrLinkExpired
	}

	return nil
}

func (s *URLSigner) signature(path, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(path + "?expires=" + expires))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// IsSignatureError reports whether err is one of the signature failures.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrUnsigned) || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrLinkExpired)
}
