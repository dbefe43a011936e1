// Package signature canonicalizes provider payloads and computes or verifies
// their HMACs. Each (provider, operation) pair has its own scheme; schemes are
// never shared between providers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

type Provider string

const (
	VNPay   Provider = "VNPAY"
	MoMo    Provider = "MOMO"
	ZaloPay Provider = "ZALOPAY"
)

type Operation string

const (
	OpCreate   Operation = "create"
	OpCallback Operation = "callback"
	OpQuery    Operation = "query"
	OpRefund   Operation = "refund"
)

// Fields is a flat provider payload. Numbers are kept in their wire form.
type Fields map[string]string

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys are the secrets of one provider. VNPay and MoMo use Primary only;
// ZaloPay signs with key1 (Primary) and receives callbacks under key2
// (Secondary). AccessKey is MoMo's access key, part of every MoMo pre-image.
type Keys struct {
	Primary   string
	Secondary string
	AccessKey string
	AppID     string
}

type keySlot int

const (
	slotPrimary keySlot = iota
	slotSecondary
)

type scheme struct {
	canon    func(f Fields, k Keys) (string, error)
	hash     func() hash.Hash
	key      keySlot
	sigField string
}

type schemeKey struct {
	p  Provider
	op Operation
}

var ErrUnknownScheme = errors.New("signature: unknown provider/operation")

// schemes is the dispatch table. VNPay canonicalizes the same way for every
// operation; MoMo and ZaloPay each have a distinct pre-image per operation.
var schemes = map[schemeKey]scheme{
	{VNPay, OpCreate}:   {canon: vnpayCanonical, hash: sha512.New, key: slotPrimary, sigField: VNPaySignatureField},
	{VNPay, OpCallback}: {canon: vnpayCanonical, hash: sha512.New, key: slotPrimary, sigField: VNPaySignatureField},
	{VNPay, OpQuery}:    {canon: vnpayCanonical, hash: sha512.New, key: slotPrimary, sigField: VNPaySignatureField},
	{VNPay, OpRefund}:   {canon: vnpayCanonical, hash: sha512.New, key: slotPrimary, sigField: VNPaySignatureField},

	{MoMo, OpCreate}:   {canon: momoOrdered(momoCreateFields), hash: sha256.New, key: slotPrimary, sigField: "signature"},
	{MoMo, OpCallback}: {canon: momoOrdered(momoCallbackFields), hash: sha256.New, key: slotPrimary, sigField: "signature"},
	{MoMo, OpQuery}:    {canon: momoOrdered(momoQueryFields), hash: sha256.New, key: slotPrimary, sigField: "signature"},
	{MoMo, OpRefund}:   {canon: momoOrdered(momoRefundFields), hash: sha256.New, key: slotPrimary, sigField: "signature"},

	{ZaloPay, OpCreate}:   {canon: zaloPiped(zaloCreateFields, false), hash: sha256.New, key: slotPrimary, sigField: "mac"},
	{ZaloPay, OpCallback}: {canon: zaloPiped(zaloCallbackFields, false), hash: sha256.New, key: slotSecondary, sigField: "mac"},
	{ZaloPay, OpQuery}:    {canon: zaloQuery, hash: sha256.New, key: slotPrimary, sigField: "mac"},
	{ZaloPay, OpRefund}:   {canon: zaloPiped(zaloRefundFields, true), hash: sha256.New, key: slotPrimary, sigField: "mac"},
}

// Engine signs and verifies with the configured provider keys.
type Engine struct {
	keys map[Provider]Keys
}

func NewEngine(keys map[Provider]Keys) *Engine {
	cp := make(map[Provider]Keys, len(keys))
	for p, k := range keys {
		cp[p] = k
	}
	return &Engine{keys: cp}
}

// Result of a verification. Fields is the payload without the signature.
type Result struct {
	Valid  bool
	Fields Fields
	Reason string
}

// SignatureField names the field carrying the signature for (p, op).
func SignatureField(p Provider, op Operation) string {
	return schemes[schemeKey{p, op}].sigField
}

// Canonical returns the pre-image for (p, op). Exposed for diagnostics and
// tests; callers normally use Sign.
func (e *Engine) Canonical(p Provider, op Operation, f Fields) (string, error) {
	s, ok := schemes[schemeKey{p, op}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownScheme, p, op)
	}
	return s.canon(f, e.keys[p])
}

func (e *Engine) Sign(p Provider, op Operation, f Fields) (string, error) {
	s, ok := schemes[schemeKey{p, op}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownScheme, p, op)
	}
	keys := e.keys[p]
	secret := keys.Primary
	if s.key == slotSecondary {
		secret = keys.Secondary
	}
	if secret == "" {
		return "", fmt.Errorf("signature: no key configured for %s/%s", p, op)
	}
	pre, err := s.canon(f, keys)
	if err != nil {
		return "", err
	}
	mac := hmac.New(s.hash, []byte(secret))
	mac.Write([]byte(pre))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a callback payload.
func (e *Engine) Verify(p Provider, raw Fields) Result {
	return e.VerifyOp(p, OpCallback, raw)
}

// VerifyOp never fails loudly: anything malformed is Valid=false.
func (e *Engine) VerifyOp(p Provider, op Operation, raw Fields) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Reason: fmt.Sprintf("verify panic: %v", r)}
		}
	}()

	s, ok := schemes[schemeKey{p, op}]
	if !ok {
		return Result{Reason: "unknown scheme"}
	}
	got := strings.TrimSpace(raw[s.sigField])
	if got == "" {
		return Result{Reason: "missing " + s.sigField}
	}
	fields := raw.Clone()
	delete(fields, s.sigField)
	if p == VNPay {
		delete(fields, VNPaySignatureTypeField)
	}

	want, err := e.Sign(p, op, fields)
	if err != nil {
		return Result{Fields: fields, Reason: err.Error()}
	}
	if !Equal(want, got) {
		return Result{Fields: fields, Reason: "signature mismatch"}
	}
	return Result{Valid: true, Fields: fields}
}

// Equal compares two hex digests in constant time. Case is ignored; invalid
// hex never matches.
func Equal(a, b string) bool {
	ab, err := hex.DecodeString(strings.ToLower(a))
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(strings.ToLower(b))
	if err != nil {
		return false
	}
	return hmac.Equal(ab, bb)
}
