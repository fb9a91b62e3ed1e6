package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

type activityPage struct {
	Entries []*models.ActivityLog `json:"entries"`
	// Next is the before cursor of the following page, empty on the last page.
	Next string `json:"next,omitempty"`
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	q, err := parseActivityQuery(r.URL.Query().Get("limit"), r.URL.Query().Get("before"))
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	page, err := listActivity(r.Context(), s.cfg.Stores.Activity, s.cfg.Gate, scope(r), q)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, page)
}

func parseActivityQuery(limit, before string) (store.ActivityQuery, error) {
	q := store.ActivityQuery{Limit: defaultActivityLimit}

	var v apperr.Validator
	if limit != "" {
		n, err := strconv.Atoi(limit)
		v.Check(err == nil && n > 0 && n <= maxActivityLimit, "limit",
			fmt.Sprintf("must be between 1 and %d", maxActivityLimit))
		q.Limit = n
	}
	if before != "" {
		cursor, err := decodeCursor(before)
		v.Check(err == nil, "before", "must be a page cursor or an RFC 3339 timestamp")
		q.Before = cursor
	}

	return q, v.Err()
}

// listActivity reads one page of the scope organization's log, newest first.
func listActivity(ctx context.Context, activity store.ActivityStore, gate *auth.Gate, sc tenancy.Scope, q store.ActivityQuery) (*activityPage, error) {
	if sc.Org == nil {
		return nil, fmt.Errorf("%w: no organization in scope", apperr.ErrNotFound)
	}
	if !sc.IsSystem() {
		if err := gate.Authorize(ctx, sc.Actor, auth.View, models.SubjectOrganization, sc.OrgID()); err != nil {
			return nil, err
		}
	}

	q.OrgID = sc.OrgID()
	entries, err := activity.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	page := &activityPage{Entries: entries}
	if len(entries) > 0 && len(entries) == q.Limit {
		last := entries[len(entries)-1]
		page.Next = encodeCursor(store.ActivityCursor{CreatedAt: last.CreatedAt, ActivityID: last.ActivityID})
	}
	if page.Entries == nil {
		page.Entries = []*models.ActivityLog{}
	}

	return page, nil
}

// encodeCursor packs the creation time in nanoseconds and the entry id into a base58 token.
func encodeCursor(c store.ActivityCursor) string {
	buf := make([]byte, 8, 8+len(c.ActivityID))
	binary.BigEndian.PutUint64(buf, uint64(c.CreatedAt.UnixNano())) // #nosec G115 - bit pattern round trips
	return base58.Encode(append(buf, c.ActivityID[:]...))
}

// decodeCursor accepts a token from encodeCursor, or a timestamp meaning every entry
// created strictly before it.
func decodeCursor(s string) (*store.ActivityCursor, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &store.ActivityCursor{CreatedAt: t}, nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 8+len(uuid.UUID{}) {
		return nil, fmt.Errorf("cursor has %d bytes", len(raw))
	}
	id, err := uuid.FromBytes(raw[8:])
	if err != nil {
		return nil, err
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:8])) // #nosec G115 - bit pattern round trips
	return &store.ActivityCursor{CreatedAt: time.Unix(0, nanos).UTC(), ActivityID: id}, nil
}
