package auth

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

// ErrUnauthenticated is the only authentication error surfaced to clients.
// The wrapped reason stays server-side so rejections cannot be used as an
// oracle for which check failed.
var ErrUnauthenticated = errors.New("authentication failed")

// signatureScope is the fixed domain-separation string the hosting platform
// uses when deriving the signing key from the application token.
const signatureScope = "WebAppData"

// Verifier checks that an init-data blob was signed by the hosting platform
// for the claimed user. It is a pure function of its inputs plus the derived
// secret; it never touches the store.
type Verifier struct {
	secret     []byte
	maxAge     time.Duration
	enforceAge bool
	now        func() time.Time
}

func NewVerifier(botToken string, maxAge time.Duration, enforceAge bool) (*Verifier, error) {
	if strings.TrimSpace(botToken) == "" {
		return nil, errors.New("bot token is required for signature verification")
	}
	mac := hmac.New(sha256.New, []byte(signatureScope))
	mac.Write([]byte(botToken))
	return &Verifier{
		secret:     mac.Sum(nil),
		maxAge:     maxAge,
		enforceAge: enforceAge,
		now:        time.Now,
	}, nil
}

// AgeEnforced reports whether stale payloads are rejected rather than just
// tolerated. Callers disabling enforcement are expected to log that choice.
func (v *Verifier) AgeEnforced() bool {
	return v.enforceAge
}

// Verify validates the raw init-data query string against the claimed user
// id. Any failure is returned wrapped in ErrUnauthenticated with the internal
// reason in the message.
func (v *Verifier) Verify(raw string, claimedUserID int64) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty init data", ErrUnauthenticated)
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return fmt.Errorf("%w: unparsable init data: %v", ErrUnauthenticated, err)
	}
	supplied := values.Get("hash")
	if supplied == "" {
		return fmt.Errorf("%w: missing signature field", ErrUnauthenticated)
	}

	expected := v.sign(values)
	suppliedRaw, err := hex.DecodeString(supplied)
	if err != nil || !hmac.Equal(suppliedRaw, expected) {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthenticated)
	}

	var user struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return fmt.Errorf("%w: unparsable user field: %v", ErrUnauthenticated, err)
	}
	if string(user.ID) != strconv.FormatInt(claimedUserID, 10) {
		return fmt.Errorf("%w: user id mismatch (embedded %s, claimed %d)", ErrUnauthenticated, user.ID, claimedUserID)
	}

	if v.enforceAge && v.maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: unparsable auth_date", ErrUnauthenticated)
		}
		issued := time.Unix(authDate, 0)
		if v.now().Sub(issued) > v.maxAge {
			return fmt.Errorf("%w: init data older than %s", ErrUnauthenticated, v.maxAge)
		}
	}
	return nil
}

// sign computes the reference signature: every field except the signature
// itself, sorted by key, joined as key=value lines, HMAC-SHA256 under the
// derived secret.
func (v *Verifier) sign(values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(values.Get(key))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(sb.String()))
	return mac.Sum(nil)
}
