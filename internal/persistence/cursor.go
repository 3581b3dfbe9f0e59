// Package persistence contains helpers shared by ledger store implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ivasann/daisy-copilot/internal/domain"
)

// EncodeCursor serialises the cursor to an opaque URL-safe token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.Timestamp.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses the encoded cursor token. An empty token yields a nil cursor.
func DecodeCursor(token string) (*domain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidArgument)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("%w: invalid cursor format", domain.ErrInvalidArgument)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cursor timestamp", domain.ErrInvalidArgument)
	}
	return &domain.Cursor{Timestamp: ts, ID: parts[1]}, nil
}

// Before reports whether rec sorts strictly after c in newest-first ledger order.
func Before(rec domain.ActivityRecord, c *domain.Cursor) bool {
	if c == nil {
		return true
	}
	if rec.Timestamp.Equal(c.Timestamp) {
		return rec.ID < c.ID
	}
	return rec.Timestamp.Before(c.Timestamp)
}
