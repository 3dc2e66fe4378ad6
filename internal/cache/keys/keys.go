// Package keys derives content-addressed cache keys.
package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Fixed keys of the whole-collection listing caches.
const (
	InstrumentsAll  = "instruments:all"
	ConstituentsAll = "constituents:all"
)

// Derive returns "<namespace>:<hex sha256 of the canonical payload>".
func Derive(namespace string, payload any) (string, error) {
	canon, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return FromCanonical(namespace, canon), nil
}

// FromCanonical hashes an already canonical payload.
func FromCanonical(namespace string, canon []byte) string {
	sum := sha256.Sum256(canon)
	return sanitizeNamespace(strings.TrimSpace(namespace)) + ":" + hex.EncodeToString(sum[:])
}

// Canonical serialises v so that semantically equal payloads produce identical bytes:
// object keys are sorted at every depth and numbers keep their literal text.
// A []byte or json.RawMessage payload is treated as a JSON document.
func Canonical(v any) ([]byte, error) {
	var doc []byte
	switch t := v.(type) {
	case json.RawMessage:
		doc = t
	case []byte:
		doc = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonical payload: %w", err)
		}
		doc = b
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	// encoding/json writes map keys in sorted order
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	return out, nil
}

func sanitizeNamespace(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
