// Package telegram validates the init data a Telegram mini-app passes to its backend.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInitData is returned for init data that is malformed, unsigned,
// signed with another bot token or too old.
var ErrInvalidInitData = errors.New("invalid telegram init data")

// WebAppUser is the "user" field of the init data.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// InitData is the verified content of an init data string.
type InitData struct {
	User     WebAppUser
	AuthDate time.Time
	QueryID  string
}

// TelegramID returns the user id in the string form used as a request identity.
func (d *InitData) TelegramID() string {
	return strconv.FormatInt(d.User.ID, 10)
}

// Verifier checks init data against a bot token.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier returns a Verifier for botToken. A zero maxAge disables the
// auth_date freshness check.
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	return &Verifier{
		secret: secretKey(botToken),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Verify checks the signature of raw and returns the decoded fields.
func (v *Verifier) Verify(raw string) (*InitData, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidInitData)
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	received := values.Get("hash")
	if received == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrInvalidInitData)
	}
	receivedMAC, err := hex.DecodeString(received)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed hash", ErrInvalidInitData)
	}

	if !hmac.Equal(receivedMAC, sign(v.secret, dataCheckString(values))) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidInitData)
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed auth_date", ErrInvalidInitData)
	}
	authDate := time.Unix(authUnix, 0).UTC()
	if v.maxAge > 0 && v.now().Sub(authDate) > v.maxAge {
		return nil, fmt.Errorf("%w: expired", ErrInvalidInitData)
	}

	data := &InitData{AuthDate: authDate, QueryID: values.Get("query_id")}
	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInitData)
	}
	if err := json.Unmarshal([]byte(userJSON), &data.User); err != nil {
		return nil, fmt.Errorf("%w: malformed user: %v", ErrInvalidInitData, err)
	}
	if data.User.ID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidInitData)
	}

	return data, nil
}

// Sign produces a signed init data string for values. The mini-app never
// needs this; it exists for tests and local tooling.
func Sign(botToken string, values url.Values) string {
	signed := url.Values{}
	for k, vs := range values {
		if k == "hash" {
			continue
		}
		signed[k] = vs
	}
	signed.Set("hash", hex.EncodeToString(sign(secretKey(botToken), dataCheckString(signed))))
	return signed.Encode()
}

// dataCheckString joins every field except hash as sorted key=value lines.
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	return strings.Join(lines, "\n")
}

func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

func sign(secret []byte, data string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
