package invitation

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/apperr"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T, now time.Time) *URLSigner {
	t.Helper()
	s, err := NewURLSigner(testSecret)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestNewURLSigner_ShortSecret(t *testing.T) {
	_, err := NewURLSigner([]byte("short"))
	require.Error(t, err)
}

func TestURLSigner(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)

	signed := s.Sign("/invitations/abc", now.Add(time.Hour))
	u, err := url.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "/invitations/abc", u.Path)

	tampered := func(key, value string) url.Values {
		q := u.Query()
		q.Set(key, value)
		return q
	}

	tests := []struct {
		name  string
		path  string
		query url.Values
		want  error
	}{
		{name: "valid", path: "/invitations/abc", query: u.Query()},
		{name: "unsigned", path: "/invitations/abc", query: url.Values{}, want: ErrUnsigned},
		{name: "missing signature", path: "/invitations/abc", query: url.Values{"expires": {u.Query().Get("expires")}}, want: ErrUnsigned},
		{name: "other path", path: "/invitations/abd", query: u.Query(), want: ErrInvalidSignature},
		{name: "extended expiry", path: "/invitations/abc", query: tampered("expires", "9999999999"), want: ErrInvalidSignature},
		{name: "garbage signature", path: "/invitations/abc", query: tampered("signature", "!!"), want: ErrInvalidSignature},
		{name: "wrong signature", path: "/invitations/abc", query: tampered("signature", "AAAA"), want: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.path, tt.query)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, apperr.ErrForbidden)
			require.True(t, IsSignatureError(err))
		})
	}
}

func TestURLSigner_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)
	u, err := url.Parse(s.Sign("/invitations/abc", now.Add(time.Minute)))
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.ErrorIs(t, s.Verify("/invitations/abc", u.Query()), ErrLinkExpired)
}

func TestURLSigner_OtherSecret(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, now)
	u, err := url.Parse(s.Sign("/invitations/abc", now.Add(time.Hour)))
	require.NoError(t, err)

	other, err := NewURLSigner([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	require.ErrorIs(t, other.Verify("/invitations/abc", u.Query()), ErrInvalidSignature)
}
