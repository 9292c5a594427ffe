// Package admin is the authorization-checked surface administrators use to
// review and decide registration requests.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/staffgate/staffgate-api/internal/auth"
	"github.com/staffgate/staffgate-api/internal/logging"
	"github.com/staffgate/staffgate-api/internal/model"
	"github.com/staffgate/staffgate-api/internal/notifier"
	"github.com/staffgate/staffgate-api/internal/store"
	"github.com/staffgate/staffgate-api/internal/tracing"
)

// Scope selects which requests ListRequests returns: all of them or those
// in a single status.
type Scope string

const (
	ScopePending  Scope = Scope(model.StatusPending)
	ScopeApproved Scope = Scope(model.StatusApproved)
	ScopeRejected Scope = Scope(model.StatusRejected)
	ScopeAll      Scope = "all"
)

// ParseScope maps a query value to a Scope. Empty means pending.
func ParseScope(s string) (Scope, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return ScopePending, nil
	case string(ScopeAll):
		return ScopeAll, nil
	default:
		status, err := model.ParseStatus(v)
		if err != nil {
			return "", model.NewValidationError(fmt.Sprintf("unknown scope %q", s))
		}
		return Scope(status), nil
	}
}

// CredentialVerifier resolves a bearer token to an administrator.
type CredentialVerifier interface {
	Verify(token string) (*auth.Admin, error)
}

// Gateway checks the credential before every store access.
type Gateway struct {
	verifier CredentialVerifier
	store    store.Store
	notifier notifier.Notifier
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewGateway creates a Gateway. A nil notifier disables notifications and
// nil tracer or logger fall back to no-ops.
func NewGateway(v CredentialVerifier, s store.Store, n notifier.Notifier, tracer trace.Tracer, logger *slog.Logger) *Gateway {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gateway{verifier: v, store: s, notifier: n, tracer: tracer, logger: logger}
}

// ListRequests returns pending requests oldest first, or with ScopeAll the
// whole history with pending requests first. Approved and rejected scopes
// filter the history by status. The scope is checked after the credential.
func (g *Gateway) ListRequests(ctx context.Context, token string, scope Scope) (requests []*model.RegistrationRequest, err error) {
	ctx, span := g.tracer.Start(ctx, "admin.list_requests",
		trace.WithAttributes(attribute.String(tracing.AttrScope, string(scope))))
	defer func() { tracing.EndSpan(span, err) }()

	admin, err := g.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrAdmin, admin.Username))

	scope, err = ParseScope(string(scope))
	if err != nil {
		return nil, err
	}
	switch scope {
	case ScopeAll:
		requests, err = g.store.List(ctx, nil)
	case ScopePending:
		requests, err = g.store.ListPending(ctx)
	default:
		status := model.RequestStatus(scope)
		requests, err = g.store.List(ctx, &status)
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int(tracing.AttrResultCount, len(requests)))
	return requests, nil
}

// Decide approves or rejects the pending request of telegramID and notifies
// the requester. A failed notification is logged and does not fail Decide.
func (g *Gateway) Decide(ctx context.Context, token, telegramID string, action model.Action) (req *model.RegistrationRequest, err error) {
	ctx, span := g.tracer.Start(ctx, "admin.decide", trace.WithAttributes(
		attribute.String(tracing.AttrTelegramID, telegramID),
		attribute.String(tracing.AttrAction, string(action)),
	))
	defer func() { tracing.EndSpan(span, err) }()

	admin, err := g.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrAdmin, admin.Username))

	target, err := action.TargetStatus()
	if err != nil {
		return nil, err
	}

	req, err = g.store.Transition(ctx, telegramID, target, admin.Username)
	if err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "registration decided",
		"telegram_id", req.TelegramID,
		"status", req.Status,
		"admin", admin.Username,
	)

	if g.notifier != nil {
		if nerr := g.notifier.NotifyDecision(ctx, req); nerr != nil {
			g.logger.WarnContext(ctx, "failed to notify requester",
				"telegram_id", req.TelegramID,
				"error", nerr,
			)
		}
	}

	return req, nil
}

func (g *Gateway) authorize(ctx context.Context, token string) (*auth.Admin, error) {
	admin, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.DebugContext(ctx, "admin credential rejected", "error", err)
		return nil, err
	}
	return admin, nil
}
