package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ReportingServiceName is the fully-qualified name of the reporting service.
	ReportingServiceName = "grc.reporting.v1.ReportingService"

	OrganizationSummaryProcedure = "/" + ReportingServiceName + "/OrganizationSummary"
	ListActivityProcedure        = "/" + ReportingServiceName + "/ListActivity"
)

// ReportingServer answers read-only reporting queries for one organization at a time.
// Requests and responses are google.protobuf.Struct messages; every request names the
// organization by its "organization" slug.
type ReportingServer struct {
	stores   *store.Stores
	dir      *directory.Directory
	gate     *auth.Gate
	entities *entityRepositories
}

func NewReportingServer(stores *store.Stores, dir *directory.Directory, gate *auth.Gate, entities *entityRepositories) *ReportingServer {
	return &ReportingServer{
		stores:   stores,
		dir:      dir,
		gate:     gate,
		entities: entities,
	}
}

// Handler returns the mount path and handler of the service.
func (s *ReportingServer) Handler(interceptors ...connect.Interceptor) (string, http.Handler) {
	opts := []connect.HandlerOption{connect.WithInterceptors(interceptors...)}

	mux := http.NewServeMux()
	mux.Handle(OrganizationSummaryProcedure, connect.NewUnaryHandler(
		OrganizationSummaryProcedure,
		s.OrganizationSummary,
		append(opts, connect.WithIdempotency(connect.IdempotencyNoSideEffects))...,
	))
	mux.Handle(ListActivityProcedure, connect.NewUnaryHandler(
		ListActivityProcedure,
		s.ListActivity,
		append(opts, connect.WithIdempotency(connect.IdempotencyNoSideEffects))...,
	))

	return "/" + ReportingServiceName + "/", mux
}

// OrganizationSummary returns headline counts. The counts are read concurrently.
func (s *ReportingServer) OrganizationSummary(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	sc, err := s.scope(ctx, req.Msg)
	if err != nil {
		return nil, apperr.ConnectError(err)
	}
	if err := s.gate.Authorize(ctx, sc.Actor, auth.View, models.SubjectOrganization, sc.OrgID()); err != nil {
		return nil, apperr.ConnectError(err)
	}

	var (
		members, pending, activity                              int
		frameworks, controls, risks, vendors, documents, people int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.stores.Memberships.ListByOrg(gctx, sc.OrgID())
		members = len(list)
		return err
	})
	g.Go(func() error {
		list, err := s.stores.Invitations.ListUnaccepted(gctx, sc.OrgID())
		now := time.Now()
		for _, inv := range list {
			if inv.State(now) == models.InvitationPending {
				pending++
			}
		}
		return err
	})
	g.Go(func() (err error) {
		activity, err = s.stores.Activity.CountByOrg(gctx, sc.OrgID())
		return err
	})
	g.Go(func() (err error) { frameworks, err = s.entities.frameworks.Count(gctx, sc); return err })
	g.Go(func() (err error) { controls, err = s.entities.controls.Count(gctx, sc); return err })
	g.Go(func() (err error) { risks, err = s.entities.risks.Count(gctx, sc); return err })
	g.Go(func() (err error) { vendors, err = s.entities.vendors.Count(gctx, sc); return err })
	g.Go(func() (err error) { documents, err = s.entities.documents.Count(gctx, sc); return err })
	g.Go(func() (err error) { people, err = s.entities.people.Count(gctx, sc); return err })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("org_id", sc.OrgID().String()).Msg("Failed to build organization summary")
		return nil, apperr.ConnectError(err)
	}

	summary, err := structpb.NewStruct(map[string]any{
		"organization": map[string]any{
			"id":   sc.Org.OrgID.String(),
			"name": sc.Org.Name,
			"slug": sc.Org.Slug,
		},
		"members":             members,
		"pending_invitations": pending,
		"activity":            activity,
		"entities": map[string]any{
			models.SubjectFramework: frameworks,
			models.SubjectControl:   controls,
			models.SubjectRisk:      risks,
			models.SubjectVendor:    vendors,
			models.SubjectDocument:  documents,
			models.SubjectPerson:    people,
		},
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(summary), nil
}

// ListActivity returns a page of the activity log. Optional fields are "limit" and "before".
func (s *ReportingServer) ListActivity(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	sc, err := s.scope(ctx, req.Msg)
	if err != nil {
		return nil, apperr.ConnectError(err)
	}

	fields := req.Msg.GetFields()
	limit, err := limitField(fields["limit"])
	if err != nil {
		return nil, apperr.ConnectError(err)
	}
	q, err := parseActivityQuery(limit, fields["before"].GetStringValue())
	if err != nil {
		return nil, apperr.ConnectError(err)
	}

	page, err := listActivity(ctx, s.stores.Activity, s.gate, sc, q)
	if err != nil {
		return nil, apperr.ConnectError(err)
	}

	msg, err := toStruct(page)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(msg), nil
}

// scope resolves the requested organization for the authenticated actor. Membership is
// checked by the caller through the gate.
func (s *ReportingServer) scope(ctx context.Context, msg *structpb.Struct) (tenancy.Scope, error) {
	actor := auth.ActorFromContext(ctx)
	if actor == nil {
		return tenancy.Scope{}, fmt.Errorf("%w: authentication required", apperr.ErrUnauthenticated)
	}

	slug := msg.GetFields()["organization"].GetStringValue()
	if slug == "" {
		return tenancy.Scope{}, apperr.Invalid("organization", "is required")
	}

	org, err := s.dir.Organization(ctx, slug)
	if err != nil {
		return tenancy.Scope{}, err
	}

	return tenancy.ForActor(org, *actor), nil
}

// toStruct converts a JSON-serializable value through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// limitField renders the optional limit for parseActivityQuery. Numbers keep their exact
// value so fractions and out of range values fail the integer check.
func limitField(v *structpb.Value) (string, error) {
	switch k := v.GetKind().(type) {
	case nil:
		return "", nil
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64), nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	default:
		return "", apperr.Invalid("limit", "must be a number")
	}
}
