package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// RequestStatus represents the status of a registration request
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// RoleEmployee is the only role a self-registration can ask for.
const RoleEmployee = "employee"

// ParseStatus converts a wire value into a RequestStatus.
func ParseStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", NewValidationError(fmt.Sprintf("unknown status %q", s))
}

// Active reports whether a request in this status blocks a new submission.
func (s RequestStatus) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransitionTo reports whether s -> target is an allowed decision.
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	return s == StatusPending && target.Terminal()
}

// Action is an administrator decision on a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// TargetStatus maps a decision to the status it produces.
func (a Action) TargetStatus() (RequestStatus, error) {
	switch a {
	case ActionApprove:
		return StatusApproved, nil
	case ActionReject:
		return StatusRejected, nil
	}
	return "", NewValidationError(fmt.Sprintf("unknown action %q", string(a)))
}

// RegistrationRequest represents an employee self-registration request
type RegistrationRequest struct {
	ID         string        `json:"id"`
	TelegramID string        `json:"telegram_id"`
	Name       string        `json:"name"`
	Phone      string        `json:"phone"`
	Role       string        `json:"role"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	// Filled when approved or rejected
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewRegistrationRequest builds a pending request from validated input.
func NewRegistrationRequest(input RegisterInput, now time.Time) *RegistrationRequest {
	now = now.UTC()
	return &RegistrationRequest{
		ID:         GenerateID(),
		TelegramID: input.TelegramID.String(),
		Name:       strings.TrimSpace(input.Name),
		Phone:      strings.TrimSpace(input.Phone),
		Role:       RoleEmployee,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// GenerateID returns a short random record id.
func GenerateID() string {
	return "req-" + uuid.New().String()[:8]
}

// Validate checks the stored fields against the registration rules.
func (r *RegistrationRequest) Validate() error {
	return NewValidationError(validateFields(r.TelegramID, r.Name, r.Phone)...)
}

// Decide moves a pending request into target. Decided requests are left
// untouched and a *TransitionError is returned.
func (r *RegistrationRequest) Decide(target RequestStatus, processedBy string, now time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		if !target.Terminal() {
			return NewValidationError(fmt.Sprintf("cannot decide into status %q", target))
		}
		return &TransitionError{TelegramID: r.TelegramID, Current: r.Status}
	}
	now = now.UTC()
	r.Status = target
	r.ProcessedBy = processedBy
	r.ProcessedAt = &now
	r.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares no pointers with r.
func (r *RegistrationRequest) Clone() *RegistrationRequest {
	c := *r
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// Identity is a requester id as sent by a client. Telegram user ids arrive
// either as JSON strings or as JSON integers; both decode to the decimal
// string form.
type Identity string

// String returns the trimmed identity.
func (id Identity) String() string {
	return strings.TrimSpace(string(id))
}

// UnmarshalJSON accepts a JSON string or a JSON integer.
func (id *Identity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Identity(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("identity must be a string or an integer, got %s", data)
	}
	*id = Identity(strconv.FormatInt(n, 10))
	return nil
}

// RegisterInput represents the input for employee registration
type RegisterInput struct {
	Name       string   `json:"name"`
	Phone      string   `json:"phone"`
	TelegramID Identity `json:"telegram_id"`
}

// Validate validates the registration input
func (r *RegisterInput) Validate() []string {
	return validateFields(
		r.TelegramID.String(),
		strings.TrimSpace(r.Name),
		strings.TrimSpace(r.Phone),
	)
}

const (
	minNameLength = 2
	maxNameLength = 128
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{10,}$`)
	identityPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

func validateFields(telegramID, name, phone string) []string {
	var errors []string

	if telegramID == "" {
		errors = append(errors, "telegram_id is required")
	} else if !IsValidIdentity(telegramID) {
		errors = append(errors, "telegram_id must be 1-64 letters, digits, '_' or '-'")
	}

	if name == "" {
		errors = append(errors, "name is required")
	} else if !isValidName(name) {
		errors = append(errors, fmt.Sprintf("name must be %d-%d characters", minNameLength, maxNameLength))
	}

	if phone == "" {
		errors = append(errors, "phone is required")
	} else if !isValidPhone(phone) {
		errors = append(errors, "phone must be at least 10 digits with an optional leading '+'")
	}

	return errors
}

// IsValidIdentity reports whether id can name a registration request.
func IsValidIdentity(id string) bool {
	return identityPattern.MatchString(id)
}

func isValidName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= minNameLength && n <= maxNameLength
}

func isValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
