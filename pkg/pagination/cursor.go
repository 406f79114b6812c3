// Package pagination provides keyset pagination over (timestamp, id) ordered rows.
// Cursors are opaque to clients and encode the position of the last row seen.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLimit is the default page size if not specified
	DefaultLimit = 10
	// MaxLimit is the maximum allowed page size
	MaxLimit = 100
)

// Cursor represents a stable pagination position.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Encode serializes the cursor to an opaque string for clients.
// Format: base64url("ts:{unix_micro}:id:{id}")
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("ts:%d:id:%s", c.Timestamp.UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// EncodeCursor is a convenience function to create and encode a cursor.
func EncodeCursor(timestamp time.Time, id string) string {
	return Cursor{Timestamp: timestamp, ID: id}.Encode()
}

// DecodeCursor parses an encoded cursor string. An empty string yields a nil
// cursor, meaning the first page.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	rest, ok := strings.CutPrefix(string(data), "ts:")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format: missing ts prefix")
	}
	parts := strings.SplitN(rest, ":id:", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format: missing id segment")
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}

	return &Cursor{Timestamp: time.UnixMicro(micros).UTC(), ID: parts[1]}, nil
}

// ClampLimit ensures limit is within valid bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// KeysetBuilder helps construct newest-first keyset pagination SQL.
type KeysetBuilder struct {
	// TimestampColumn is the column name for the timestamp (e.g., "created_at")
	TimestampColumn string
	// IDColumn is the column name for the unique ID
	IDColumn string
}

// Condition returns a WHERE fragment selecting rows older than cursor, using
// $N placeholders starting at startArgIdx. A nil cursor yields no condition.
func (b KeysetBuilder) Condition(cursor *Cursor, startArgIdx int) (string, []any) {
	if cursor == nil {
		return "", nil
	}
	return fmt.Sprintf("(%s, %s) < ($%d, $%d)",
			b.TimestampColumn, b.IDColumn, startArgIdx, startArgIdx+1),
		[]any{cursor.Timestamp, cursor.ID}
}

func (b KeysetBuilder) OrderBy() string {
	return fmt.Sprintf("ORDER BY %s DESC, %s DESC", b.TimestampColumn, b.IDColumn)
}

// NextCursor returns the cursor after the last of limit rows when more rows
// were fetched than requested, or "" on the final page. Callers fetch
// limit+1 rows to detect a following page.
func NextCursor(fetched, limit int, last Cursor) string {
	if fetched <= limit {
		return ""
	}
	return last.Encode()
}
