// Package registration accepts employee self-registration requests.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/staffgate/staffgate-api/internal/logging"
	"github.com/staffgate/staffgate-api/internal/model"
	"github.com/staffgate/staffgate-api/internal/store"
	"github.com/staffgate/staffgate-api/internal/telegram"
	"github.com/staffgate/staffgate-api/internal/tracing"
)

// Options configures a Service. Zero values are usable.
type Options struct {
	// Verifier checks Telegram init data. Without one, init data is ignored.
	Verifier *telegram.Verifier
	// RequireInitData rejects submissions that carry no init data.
	RequireInitData bool

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Service validates submissions and writes them to the store.
type Service struct {
	store           store.Store
	verifier        *telegram.Verifier
	requireInitData bool
	tracer          trace.Tracer
	logger          *slog.Logger
	now             func() time.Time
}

// NewService creates a registration service on top of s.
func NewService(s store.Store, opts Options) *Service {
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Service{
		store:           s,
		verifier:        opts.Verifier,
		requireInitData: opts.RequireInitData,
		tracer:          opts.Tracer,
		logger:          opts.Logger,
		now:             time.Now,
	}
}

// Submit validates input and records a new pending request. initData is the
// raw Telegram WebApp init data; when present and a verifier is configured,
// the signed user id must equal input.TelegramID.
func (s *Service) Submit(ctx context.Context, input model.RegisterInput, initData string) (req *model.RegistrationRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.submit",
		trace.WithAttributes(attribute.String(tracing.AttrTelegramID, input.TelegramID.String())))
	defer func() { tracing.EndSpan(span, err) }()

	if errs := input.Validate(); len(errs) > 0 {
		return nil, model.NewValidationError(errs...)
	}

	if err := s.checkInitData(input.TelegramID.String(), initData); err != nil {
		s.logger.WarnContext(ctx, "init data rejected", "telegram_id", input.TelegramID.String(), "error", err)
		return nil, err
	}

	req = model.NewRegistrationRequest(input, s.now())
	if err := s.store.Create(ctx, req); err != nil {
		if errors.Is(err, model.ErrConflict) {
			s.logger.InfoContext(ctx, "duplicate registration", "telegram_id", req.TelegramID)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "registration submitted", "telegram_id", req.TelegramID, "id", req.ID)
	return req, nil
}

// Status returns the current request of telegramID.
func (s *Service) Status(ctx context.Context, telegramID string) (req *model.RegistrationRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.status",
		trace.WithAttributes(attribute.String(tracing.AttrTelegramID, telegramID)))
	defer func() { tracing.EndSpan(span, err) }()

	req, err = s.store.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrStatus, string(req.Status)))
	return req, nil
}

func (s *Service) checkInitData(telegramID, raw string) error {
	if raw == "" {
		if s.requireInitData {
			return model.NewValidationError("telegram init data is required")
		}
		return nil
	}
	if s.verifier == nil {
		return nil
	}

	data, err := s.verifier.Verify(raw)
	if err != nil {
		return model.NewValidationError("invalid telegram init data")
	}
	if data.TelegramID() != telegramID {
		return model.NewValidationError("telegram id mismatch")
	}
	return nil
}
