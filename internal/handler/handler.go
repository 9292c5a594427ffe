package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/staffgate/staffgate-api/internal/admin"
	"github.com/staffgate/staffgate-api/internal/auth"
	"github.com/staffgate/staffgate-api/internal/config"
	"github.com/staffgate/staffgate-api/internal/logging"
	"github.com/staffgate/staffgate-api/internal/model"
	"github.com/staffgate/staffgate-api/internal/registration"
)

// InitDataHeader carries the Telegram WebApp init data on /register.
const InitDataHeader = "Telegram-Init-Data"

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// LoginService issues admin credentials
type LoginService interface {
	Login(ctx context.Context, username, password string) (*auth.Credential, error)
}

// Handler handles HTTP requests
type Handler struct {
	registration *registration.Service
	gateway      *admin.Gateway
	login        LoginService
	config       config.ServerConfig
	logger       *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(reg *registration.Service, gw *admin.Gateway, login LoginService, cfg config.ServerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		registration: reg,
		gateway:      gw,
		login:        login,
		config:       cfg,
		logger:       logger,
	}
}

// Router returns the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	timeout := h.config.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	origins := h.config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", InitDataHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(timeout))

	// Requester routes
	r.Post("/register", h.register)
	r.Get("/user/status/{telegram_id}", h.userStatus)

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.adminLogin)
		r.Get("/requests", h.listRequests)
		r.Post("/approve/{telegram_id}", h.decide(model.ActionApprove))
		r.Post("/reject/{telegram_id}", h.decide(model.ActionReject))
	})

	// Health check
	r.Get("/health", h.healthCheck)

	return r
}

// JSON response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type errorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type statusResponse struct {
	TelegramID string              `json:"telegram_id"`
	Status     model.RequestStatus `json:"status"`
}

type loginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Error kinds reported in the "error" field
const (
	kindValidation         = "validation_error"
	kindConflict           = "conflict"
	kindNotFound           = "not_found"
	kindInvalidTransition  = "invalid_transition"
	kindInvalidCredentials = "invalid_credentials"
	kindUnauthorized       = "unauthorized"
	kindTooManyAttempts    = "too_many_attempts"
	kindInternal           = "internal_error"
)

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) jsonError(w http.ResponseWriter, status int, kind, message string, errs ...string) {
	h.jsonResponse(w, status, errorResponse{
		Success: false,
		Error:   kind,
		Message: message,
		Errors:  errs,
	})
}

// writeError maps a domain error to its status code and body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		h.jsonError(w, http.StatusBadRequest, kindValidation, "Validation failed", model.ValidationMessages(err)...)
	case errors.Is(err, model.ErrConflict):
		h.jsonError(w, http.StatusConflict, kindConflict, "An active registration request already exists for this Telegram ID")
	case errors.Is(err, model.ErrNotFound):
		h.jsonError(w, http.StatusNotFound, kindNotFound, "Registration request not found")
	case errors.Is(err, model.ErrInvalidTransition):
		h.jsonError(w, http.StatusConflict, kindInvalidTransition, err.Error())
	case errors.Is(err, model.ErrInvalidCredentials):
		h.jsonError(w, http.StatusUnauthorized, kindInvalidCredentials, "Incorrect username or password")
	case errors.Is(err, model.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.jsonError(w, http.StatusUnauthorized, kindUnauthorized, "Could not validate credentials")
	case errors.Is(err, model.ErrTooManyAttempts):
		h.jsonError(w, http.StatusTooManyRequests, kindTooManyAttempts, "Too many failed login attempts, try again later")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.jsonError(w, http.StatusInternalServerError, kindInternal, "Internal server error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewValidationError("invalid JSON body: " + err.Error())
	}
	return nil
}

// bearerToken returns the token of an "Authorization: Bearer" header, or "".
func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Health check
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, apiResponse{Success: true, Message: "OK"})
}

// Requester handlers

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var input model.RegisterInput
	if err := h.decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	req, err := h.registration.Submit(r.Context(), input, r.Header.Get(InitDataHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Registration request sent successfully",
		Data:    req,
	})
}

func (h *Handler) userStatus(w http.ResponseWriter, r *http.Request) {
	req, err := h.registration.Status(r.Context(), chi.URLParam(r, "telegram_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, statusResponse{TelegramID: req.TelegramID, Status: req.Status})
}

// Admin handlers

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var input loginInput
	if err := h.decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	cred, err := h.login.Login(auth.WithClientAddr(r.Context(), r.RemoteAddr), input.Username, input.Password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) || errors.Is(err, model.ErrTooManyAttempts) {
			h.logger.WarnContext(r.Context(), "admin login failed",
				"username", input.Username,
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
		}
		h.writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, cred)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := admin.Scope(q.Get("scope"))
	if scope == "" {
		scope = admin.Scope(q.Get("status"))
	}
	requests, err := h.gateway.ListRequests(r.Context(), bearerToken(r), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, requests)
}

func (h *Handler) decide(action model.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.gateway.Decide(r.Context(), bearerToken(r), chi.URLParam(r, "telegram_id"), action)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		h.jsonResponse(w, http.StatusOK, req)
	}
}
