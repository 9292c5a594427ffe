package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// =============================================================================
// Field Validation Tests
// =============================================================================

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  bool
	}{
		{"international", "+15551234567", true},
		{"ten digits", "5551234567", true},
		{"long", "+998901234567890", true},

		{"five digits", "12345", false},
		{"nine digits", "123456789", false},
		{"letters", "+1555abc4567", false},
		{"inner plus", "1555+1234567", false},
		{"spaces", "+1 555 123 4567", false},
		{"dashes", "555-123-4567", false},
		{"only plus", "+", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidPhone(tt.phone), "isValidPhone(%q)", tt.phone)
		})
	}
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"two letters", "Al", true},
		{"full name", "Ivan Petrov", true},
		{"cyrillic", "Иван", true},
		{"two runes", "Ли", true},
		{"max length", strings.Repeat("a", maxNameLength), true},

		{"one letter", "A", false},
		{"one multibyte rune", "Ж", false},
		{"too long", strings.Repeat("a", maxNameLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidName(tt.input), "isValidName(%q)", tt.input)
		})
	}
}

func TestIsValidIdentity(t *testing.T) {
	assert.True(t, IsValidIdentity("123456789"))
	assert.True(t, IsValidIdentity("user_42-a"))
	assert.False(t, IsValidIdentity(""))
	assert.False(t, IsValidIdentity("../etc/passwd"))
	assert.False(t, IsValidIdentity("id with space"))
	assert.False(t, IsValidIdentity(strings.Repeat("1", 65)))
}

func TestRegisterInput_Validate(t *testing.T) {
	valid := RegisterInput{Name: "Ivan Petrov", Phone: "+15551234567", TelegramID: "123456"}
	assert.Empty(t, valid.Validate())

	trimmed := RegisterInput{Name: "  Ivan  ", Phone: " +15551234567 ", TelegramID: " 123456 "}
	assert.Empty(t, trimmed.Validate(), "surrounding whitespace is ignored")

	empty := RegisterInput{}
	errs := empty.Validate()
	require.Len(t, errs, 3)
	assert.Contains(t, errs, "telegram_id is required")
	assert.Contains(t, errs, "name is required")
	assert.Contains(t, errs, "phone is required")

	badPhone := RegisterInput{Name: "Ivan", Phone: "12345", TelegramID: "1"}
	errs = badPhone.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "phone")
}

func TestIdentity_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Identity
	}{
		{"string", `{"telegram_id":"279058397"}`, "279058397"},
		{"integer", `{"telegram_id":279058397}`, "279058397"},
		{"large integer", `{"telegram_id":7123456789}`, "7123456789"},
		{"negative integer", `{"telegram_id":-100200}`, "-100200"},
		{"null", `{"telegram_id":null}`, ""},
		{"absent", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input RegisterInput
			require.NoError(t, json.Unmarshal([]byte(tt.body), &input))
			assert.Equal(t, tt.want, input.TelegramID)
		})
	}

	for _, body := range []string{`{"telegram_id":1.5}`, `{"telegram_id":1e3}`, `{"telegram_id":true}`, `{"telegram_id":[1]}`} {
		var input RegisterInput
		assert.Error(t, json.Unmarshal([]byte(body), &input), body)
	}

	var input RegisterInput
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Ivan","phone":"+15551234567","telegram_id":42}`), &input))
	assert.Empty(t, input.Validate())
	assert.Equal(t, "42", NewRegistrationRequest(input, time.Now()).TelegramID)
}

func TestPhoneProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		digits := rapid.StringMatching(`[0-9]{10,20}`).Draw(rt, "digits")
		plus := rapid.Bool().Draw(rt, "plus")
		phone := digits
		if plus {
			phone = "+" + digits
		}
		if !isValidPhone(phone) {
			rt.Fatalf("expected %q to be valid", phone)
		}
	})

	rapid.Check(t, func(rt *rapid.T) {
		short := rapid.StringMatching(`\+?[0-9]{0,9}`).Draw(rt, "short")
		if isValidPhone(short) {
			rt.Fatalf("expected %q to be rejected", short)
		}
	})
}

// =============================================================================
// Error Kind Tests
// =============================================================================

func TestValidationError_Is(t *testing.T) {
	err := NewValidationError("name is required")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, []string{"name is required"}, ValidationMessages(err))

	assert.NoError(t, NewValidationError())
}

func TestTransitionError_Is(t *testing.T) {
	err := error(&TransitionError{TelegramID: "42", Current: StatusApproved})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "approved")
}

// =============================================================================
// State Machine Tests
// =============================================================================

func TestRequestStatus_CanTransitionTo(t *testing.T) {
	all := []RequestStatus{StatusPending, StatusApproved, StatusRejected}
	for _, from := range all {
		for _, to := range all {
			want := from == StatusPending && to != StatusPending
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestAction_TargetStatus(t *testing.T) {
	st, err := ActionApprove.TargetStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	st, err = ActionReject.TargetStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, st)

	_, err = Action("archive").TargetStatus()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Approved ")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	_, err = ParseStatus("deleted")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegistrationRequest_Decide(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := NewRegistrationRequest(RegisterInput{Name: "Ivan", Phone: "+15551234567", TelegramID: "7"}, created)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, RoleEmployee, req.Role)
	require.True(t, strings.HasPrefix(req.ID, "req-"))

	decided := created.Add(time.Hour)
	require.NoError(t, req.Decide(StatusApproved, "admin", decided))
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, "admin", req.ProcessedBy)
	require.NotNil(t, req.ProcessedAt)
	assert.Equal(t, decided, *req.ProcessedAt)
	assert.Equal(t, created, req.CreatedAt, "created_at must not change")

	err := req.Decide(StatusRejected, "admin", decided.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusApproved, req.Status)

	other := NewRegistrationRequest(RegisterInput{Name: "Ivan", Phone: "+15551234567", TelegramID: "8"}, created)
	assert.ErrorIs(t, other.Decide(StatusPending, "admin", decided), ErrValidation)
}

func TestRegistrationRequest_Clone(t *testing.T) {
	now := time.Now()
	req := &RegistrationRequest{TelegramID: "1", ProcessedAt: &now}
	c := req.Clone()
	later := now.Add(time.Hour)
	*c.ProcessedAt = later
	assert.Equal(t, now, *req.ProcessedAt)
}
