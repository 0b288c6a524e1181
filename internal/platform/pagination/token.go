package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque position carried by page tokens: the ID of the last item already returned.
type Cursor struct {
	After string `json:"after,omitempty"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token. An empty cursor yields "".
func EncodeToken(cursor Cursor) (string, error) {
	if strings.TrimSpace(cursor.After) == "" {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(cursor.After) == "" {
		return Cursor{}, fmt.Errorf("%w: empty cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}

// TokenAfter encodes a token pointing after the given item ID, ignoring encode failures on empty ids.
func TokenAfter(id string) string {
	token, err := EncodeToken(Cursor{After: id})
	if err != nil {
		return ""
	}
	return token
}
