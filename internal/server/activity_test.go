package server

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/store/memory"
	"github.com/wolfeidau/grc/internal/tenancy"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestListActivity_PagesThroughEqualTimestamps(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	org := &models.Organization{OrgID: uuid.New(), Name: "Acme", Slug: "acme"}
	require.NoError(t, stores.Organizations.Create(ctx, org))

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for range 3 {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		require.NoError(t, stores.Activity.Append(ctx, &models.ActivityLog{
			ActivityID:  id,
			OrgID:       org.OrgID,
			Event:       models.ActivityUpdated,
			SubjectType: models.SubjectOrganization,
			SubjectID:   org.OrgID,
			SubjectName: "Acme",
			CreatedAt:   at,
		}))
	}

	gate := auth.NewGate(stores.Memberships)
	sc := tenancy.System(org)

	q, err := parseActivityQuery("2", "")
	require.NoError(t, err)
	first, err := listActivity(ctx, stores.Activity, gate, sc, q)
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.NotEmpty(t, first.Next)

	q, err = parseActivityQuery("2", first.Next)
	require.NoError(t, err)
	second, err := listActivity(ctx, stores.Activity, gate, sc, q)
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	require.Empty(t, second.Next)

	seen := map[uuid.UUID]bool{}
	for _, entry := range append(first.Entries, second.Entries...) {
		seen[entry.ActivityID] = true
	}
	require.Len(t, seen, 3)
}

func TestDecodeCursor(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 123456000, time.UTC)
	id := uuid.Must(uuid.NewV7())

	t.Run("round trip", func(t *testing.T) {
		got, err := decodeCursor(encodeCursor(store.ActivityCursor{CreatedAt: at, ActivityID: id}))
		require.NoError(t, err)
		require.True(t, at.Equal(got.CreatedAt))
		require.Equal(t, id, got.ActivityID)
	})

	t.Run("timestamp", func(t *testing.T) {
		got, err := decodeCursor(at.Format(time.RFC3339Nano))
		require.NoError(t, err)
		require.True(t, at.Equal(got.CreatedAt))
		require.Equal(t, uuid.Nil, got.ActivityID)
	})

	invalid := []string{
		"not-a-cursor",
		base58.Encode([]byte("short")),
		"0OIl",
	}
	for _, s := range invalid {
		t.Run("rejects "+s, func(t *testing.T) {
			_, err := decodeCursor(s)
			require.Error(t, err)

			_, err = parseActivityQuery("", s)
			require.ErrorIs(t, err, apperr.ErrValidationFailed)
		})
	}
}

func TestLimitField(t *testing.T) {
	tests := []struct {
		name    string
		value   *structpb.Value
		limit   int
		invalid bool
	}{
		{name: "absent", value: nil, limit: defaultActivityLimit},
		{name: "integer", value: structpb.NewNumberValue(25), limit: 25},
		{name: "numeric string", value: structpb.NewStringValue("7"), limit: 7},
		{name: "fraction", value: structpb.NewNumberValue(1.9), invalid: true},
		{name: "huge", value: structpb.NewNumberValue(1e300), invalid: true},
		{name: "negative", value: structpb.NewNumberValue(-3), invalid: true},
		{name: "above maximum", value: structpb.NewNumberValue(maxActivityLimit + 1), invalid: true},
		{name: "wrong kind", value: structpb.NewBoolValue(true), invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, err := limitField(tt.value)
			if err == nil {
				var q store.ActivityQuery
				q, err = parseActivityQuery(limit, "")
				if !tt.invalid {
					require.NoError(t, err)
					require.Equal(t, tt.limit, q.Limit)
					return
				}
			}
			require.True(t, tt.invalid, "unexpected error: %v", err)
			require.ErrorIs(t, err, apperr.ErrValidationFailed)
		})
	}
}
