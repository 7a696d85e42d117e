// ABOUTME: Session identifier type and the single validating constructor
// ABOUTME: Coerces loosely typed values from disk or remote APIs into canonical ids

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// ErrInvalidSessionID is returned when a value does not satisfy the session id format.
var ErrInvalidSessionID = errors.New("invalid session id")

const (
	// IDPrefix is the prefix every backend-issued session id carries.
	IDPrefix = "thread_"

	// MinIDLength is the minimum length of a full session id, prefix included.
	MinIDLength = 15
)

// ID is a validated session identifier. The zero value is not valid; obtain
// IDs through ParseID.
type ID string

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}

// ParseID validates s and returns it as an ID. It is the only way ids enter
// the system: registry load, Store.Set and backend responses all go through it.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if !strings.HasPrefix(s, IDPrefix) {
		return "", fmt.Errorf("%w: missing %q prefix", ErrInvalidSessionID, IDPrefix)
	}
	if len(s) < MinIDLength {
		return "", fmt.Errorf("%w: shorter than %d characters", ErrInvalidSessionID, MinIDLength)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidSessionID)
	}
	return ID(s), nil
}

// Valid reports whether s satisfies the session id format.
func Valid(s string) bool {
	_, err := ParseID(s)
	return err == nil
}

// Coerce turns an arbitrary value into its string form before validation.
// Objects carrying an identifier (an "id" key, an ID field or an ID method)
// contribute that identifier; everything else goes through fmt.Sprint.
func Coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case ID:
		return string(t)
	case json.Number:
		return t.String()
	case interface{ GetID() string }:
		return t.GetID()
	case map[string]any:
		if id, ok := t["id"]; ok {
			return Coerce(id)
		}
		return fmt.Sprint(t)
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName("ID"); f.IsValid() && f.CanInterface() {
			return Coerce(f.Interface())
		}
	}
	return fmt.Sprint(v)
}
