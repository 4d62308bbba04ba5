package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
)

const signaturePrefix = "sha256="

// Verifier checks that a callback body was signed with a provider's shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for one provider secret. An empty secret yields
// a verifier that rejects everything.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

// Verify computes HMAC-SHA256 over the exact body bytes and compares it with the
// hex or base64 encoded signature in constant time.
func (v *Verifier) Verify(body []byte, signature string) error {
	if v == nil || len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", apperrors.ErrInvalidSignature)
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix))
	if signature == "" {
		return fmt.Errorf("%w: signature header is required", apperrors.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	decoded, err := decodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidSignature, err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("%w: signature mismatch", apperrors.ErrInvalidSignature)
	}
	return nil
}

// decodeSignature accepts the 64 character hex form or standard base64.
func decodeSignature(signature string) ([]byte, error) {
	if len(signature) == hex.EncodedLen(sha256.Size) {
		if decoded, err := hex.DecodeString(signature); err == nil {
			return decoded, nil
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return decoded, nil
}

// Sign returns the hex signature Verify accepts for body. Used by the load tester
// and by tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Registry holds one verifier per provider.
type Registry struct {
	verifiers map[string]*Verifier
}

// NewRegistry builds verifiers from a provider -> secret map.
func NewRegistry(secrets map[string]string) *Registry {
	r := &Registry{verifiers: make(map[string]*Verifier, len(secrets))}
	for provider, secret := range secrets {
		r.verifiers[strings.ToLower(provider)] = NewVerifier(secret)
	}
	return r
}

// Verify checks body against the verifier registered for provider.
// Unknown providers are rejected.
func (r *Registry) Verify(provider string, body []byte, signature string) error {
	v, ok := r.verifiers[strings.ToLower(provider)]
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", apperrors.ErrInvalidSignature, provider)
	}
	return v.Verify(body, signature)
}

// Known reports whether a verifier is registered for provider.
func (r *Registry) Known(provider string) bool {
	_, ok := r.verifiers[strings.ToLower(provider)]
	return ok
}
