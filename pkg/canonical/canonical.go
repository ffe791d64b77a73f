// Package canonical provides deterministic JSON serialization (RFC 8785) and
// the SHA-256 digest used to hash ledger events.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the canonical JSON form of v.
//
// Object keys are sorted at every depth, arrays keep their order, and scalars
// use the RFC 8785 encodings, so two values that are deep-equal up to key
// order always produce identical bytes.
func Bytes(v any) ([]byte, error) {
	// jcs only accepts an object or array at the top level, so the value is
	// wrapped in a one-element array and unwrapped afterwards.
	var buf bytes.Buffer
	buf.WriteByte('[')
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	buf.Truncate(buf.Len() - 1) // trailing newline from Encode
	buf.WriteByte(']')

	out, err := jcs.Transform(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out[1 : len(out)-1], nil
}

// Canonicalize returns the canonical JSON form of v as a string.
func Canonicalize(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash canonicalizes v and digests the result.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}
