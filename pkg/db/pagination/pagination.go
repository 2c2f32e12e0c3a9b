// Package pagination implements opaque keyset page tokens.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// Cursor marks the row a page ends at; the next page starts strictly
// before it.
type Cursor struct {
	Before string `json:"b"`
}

func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Before == "" {
		return Cursor{}, ErrInvalidPageToken
	}
	return c, nil
}

// DecodeIDCursor decodes a token whose boundary is a positive integer id.
func DecodeIDCursor(token string) (int64, error) {
	c, err := DecodeCursor(token)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(c.Before, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPageToken
	}
	return id, nil
}

func ClampPageSize(size, def, max int) int {
	if size <= 0 {
		size = def
	}
	if max > 0 && size > max {
		size = max
	}
	return size
}

// Trim cuts rows fetched with limit+1 down to limit. When a row was cut
// the page info carries a token built from the last kept row.
func Trim[T any](rows []T, limit int, boundary func(T) string) ([]T, PageInfo, error) {
	if len(rows) <= limit {
		return rows, PageInfo{}, nil
	}
	rows = rows[:limit]
	token, err := EncodeCursor(Cursor{Before: boundary(rows[len(rows)-1])})
	if err != nil {
		return nil, PageInfo{}, err
	}
	return rows, PageInfo{NextPageToken: token, HasMore: true}, nil
}
