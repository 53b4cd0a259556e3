// Package pagination implements opaque keyset page tokens for list endpoints.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidPageSize  = errors.New("invalid_page_size")
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Size returns the effective page size, clamped to MaxPageSize.
func (p Pagination) Size() (int, error) {
	switch {
	case p.PageSize < 0:
		return 0, ErrInvalidPageSize
	case p.PageSize == 0:
		return DefaultPageSize, nil
	case p.PageSize > MaxPageSize:
		return MaxPageSize, nil
	default:
		return p.PageSize, nil
	}
}

// Cursor is the sort key of the last row of a page.
type Cursor struct {
	Key  string `json:"k"`
	Hits int64  `json:"h,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor parses a page token. A blank token yields nil.
func DecodeCursor(data string) (*Cursor, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil || cursor.Key == "" {
		return nil, ErrInvalidPageToken
	}
	return &cursor, nil
}

// BuildCursorPageInfo trims data fetched with limit+1 rows to limit and
// returns the token of the last kept row when more rows remain.
func BuildCursorPageInfo[T any](data []T, limit int, extractCursor func(T) Cursor) ([]T, PageInfo, error) {
	if len(data) <= limit {
		return data, PageInfo{HasMore: false}, nil
	}

	data = data[:limit]
	token, err := EncodeCursor(extractCursor(data[len(data)-1]))
	if err != nil {
		return nil, PageInfo{}, err
	}
	return data, PageInfo{HasMore: true, NextPageToken: token}, nil
}
