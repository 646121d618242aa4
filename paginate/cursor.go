// Package paginate assembles stable pages over strictly ordered range queries.
//
// A cursor is an opaque token carrying the last sort key a page returned and a
// fingerprint of the query that produced it. Presenting a cursor to a query
// with different parameters fails with [ErrCursorInvalid] rather than
// resuming the wrong scan.
package paginate

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrCursorInvalid is returned for malformed cursors or cursors issued for a
// different query.
var ErrCursorInvalid = errors.New("arbor: pagination cursor is invalid")

const cursorVersion = 1

type cursor struct {
	Version     int    `cbor:"1,keyasint"`
	Fingerprint string `cbor:"2,keyasint"`
	After       string `cbor:"3,keyasint"`
}

// Fingerprint derives a stable identifier for a query from its parameters.
// Parameter order matters.
func Fingerprint(params ...string) string {
	h := sha256.New()
	for _, p := range params {
		// Length-prefix each part so ("ab","c") and ("a","bc") differ.
		fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Encode builds the cursor token resuming after sort key after.
func Encode(fingerprint, after string) (string, error) {
	data, err := cbor.Marshal(cursor{
		Version:     cursorVersion,
		Fingerprint: fingerprint,
		After:       after,
	})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode validates token against fingerprint and returns its sort key.
func Decode(token, fingerprint string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrCursorInvalid)
	}

	var c cursor
	if err := cbor.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("%w: malformed", ErrCursorInvalid)
	}
	if c.Version != cursorVersion {
		return "", fmt.Errorf("%w: unsupported version %d", ErrCursorInvalid, c.Version)
	}
	if c.Fingerprint != fingerprint {
		return "", fmt.Errorf("%w: issued for different query parameters", ErrCursorInvalid)
	}
	if c.After == "" {
		return "", fmt.Errorf("%w: empty position", ErrCursorInvalid)
	}
	return c.After, nil
}
