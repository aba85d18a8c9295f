// Package override implements the operator override gate.
//
// An override is a signed token an operator presents to relax one named
// guard for one run. Tokens are HMAC-SHA256 signed with a key derived
// from the deployment secret via HKDF, and every accepted override is
// written to the run ledger before it takes effect. Overrides that
// would mutate identity are refused outright: no token can authorize
// an identity write.
package override

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// OverrideType names a guard an operator may relax.
type OverrideType string

// Override types.
const (
	OverrideReuseDenial   OverrideType = "reuse_denial"
	OverrideKillSwitch    OverrideType = "kill_switch"
	OverrideFallbackAbort OverrideType = "fallback_abort"
)

func validType(typ OverrideType) bool {
	switch typ {
	case OverrideReuseDenial, OverrideKillSwitch, OverrideFallbackAbort:
		return true
	}
	return false
}

// SignatureLength is the number of hex characters kept from the HMAC.
const SignatureLength = 16

// hkdfInfo domain-separates the override key from other derived keys.
const hkdfInfo = "aes/override-token/v1"

// Token is a parsed override token.
type Token struct {
	Type       OverrideType
	OperatorID string
	Reason     string
	IssuedAt   time.Time
	Signature  string
}

// String renders the wire form: type|operator|reason|ts::sig.
func (t Token) String() string {
	return t.payload() + "::" + t.Signature
}

func (t Token) payload() string {
	return strings.Join([]string{
		string(t.Type),
		t.OperatorID,
		t.Reason,
		strconv.FormatInt(t.IssuedAt.UTC().Unix(), 10),
	}, "|")
}

// InvalidTokenError reports a token that failed parsing or verification.
type InvalidTokenError struct {
	Detail string
}

func (e *InvalidTokenError) Error() string {
	return "invalid override token: " + e.Detail
}

// IdentityMutationError reports an override that would authorize an
// identity write. These are categorically refused.
type IdentityMutationError struct {
	Type OverrideType
}

func (e *IdentityMutationError) Error() string {
	return fmt.Sprintf("override %q would mutate identity and cannot be authorized", e.Type)
}

// Gate issues and applies override tokens.
type Gate struct {
	key   []byte
	clock func() time.Time
}

// NewGate derives the signing key from the deployment secret.
func NewGate(secret []byte) (*Gate, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive override key: %w", err)
	}
	return &Gate{key: key, clock: time.Now}, nil
}

// WithClock overrides the time source for tests.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Issue mints a signed token for the given override.
func (g *Gate) Issue(typ OverrideType, operatorID, reason string) (Token, error) {
	if !validType(typ) {
		return Token{}, &InvalidTokenError{Detail: fmt.Sprintf("unknown override type %q", typ)}
	}
	if operatorID == "" || reason == "" {
		return Token{}, &InvalidTokenError{Detail: "operator id and reason are required"}
	}
	if strings.ContainsAny(operatorID+reason, "|:") {
		return Token{}, &InvalidTokenError{Detail: "operator id and reason must not contain '|' or ':'"}
	}
	tok := Token{
		Type:       typ,
		OperatorID: operatorID,
		Reason:     reason,
		IssuedAt:   g.clock().UTC().Truncate(time.Second),
	}
	tok.Signature = g.sign(tok.payload())
	return tok, nil
}

// Parse splits and verifies a wire-form token. It does not check the
// override type against any policy; Apply does that.
func (g *Gate) Parse(raw string) (Token, error) {
	payload, sig, found := strings.Cut(raw, "::")
	if !found {
		return Token{}, &InvalidTokenError{Detail: "missing signature separator"}
	}
	parts := strings.Split(payload, "|")
	if len(parts) != 4 {
		return Token{}, &InvalidTokenError{Detail: "expected 4 payload fields"}
	}
	if !validType(OverrideType(parts[0])) {
		return Token{}, &InvalidTokenError{Detail: fmt.Sprintf("unknown override type %q", parts[0])}
	}
	unix, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Token{}, &InvalidTokenError{Detail: "bad timestamp"}
	}
	tok := Token{
		Type:       OverrideType(parts[0]),
		OperatorID: parts[1],
		Reason:     parts[2],
		IssuedAt:   time.Unix(unix, 0).UTC(),
		Signature:  sig,
	}
	if !hmac.Equal([]byte(g.sign(tok.payload())), []byte(sig)) {
		return Token{}, &InvalidTokenError{Detail: "signature mismatch"}
	}
	return tok, nil
}

// Apply verifies a token and records the override in the ledger. The
// ledger write happens before the override is reported effective; if
// the write fails the override is not applied. Invalid tokens leave no
// ledger trace. An override that would mutate identity is refused even
// with a valid signature.
func (g *Gate) Apply(led ledger.Ledger, runID, raw string, mutatesIdentity bool) (Token, error) {
	tok, err := g.Parse(raw)
	if err != nil {
		return Token{}, err
	}
	if mutatesIdentity {
		return Token{}, &IdentityMutationError{Type: tok.Type}
	}
	_, err = led.Append(runID, ledger.EventOperatorOverride, tok.OperatorID, map[string]any{
		"override_type": string(tok.Type),
		"operator_id":   tok.OperatorID,
		"reason":        tok.Reason,
		"issued_at":     tok.IssuedAt.Format(time.RFC3339),
	})
	if err != nil {
		return Token{}, fmt.Errorf("record override: %w", err)
	}
	return tok, nil
}

func (g *Gate) sign(payload string) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:SignatureLength]
}
