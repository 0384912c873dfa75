package paging

import (
	"context"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// OrderByIDDesc is the only supported sort: newest id first.
	OrderByIDDesc = "id desc"
)

// Request is the common input of every list operation.
type Request struct {
	Parent    string
	PageSize  uint32
	PageToken string
}

// Page is one page of results. Empty token strings mean "no such page".
// PrevPageToken is the token supplied with the request, so a client can step
// back exactly one page; arbitrary backward paging is not supported.
type Page[T any] struct {
	Items         []T
	NextPageToken string
	PrevPageToken string
	TotalSize     *int64
}

// Pager is the per-entity data access adapter. List returns up to limit items
// under parent ordered by id descending, starting strictly after offsetID, or
// from the newest item when offsetID is empty.
type Pager[T any] interface {
	List(ctx context.Context, parent string, limit int, offsetID string) ([]T, error)
	ItemID(item T) string
}

// Counter is implemented by pagers that can report the collection size.
type Counter interface {
	Count(ctx context.Context, parent string) (int64, error)
}

// Paginate fetches one page using the over-fetch-by-one strategy.
func Paginate[T any](ctx context.Context, p Pager[T], req Request) (Page[T], error) {
	pageSize := req.PageSize
	var orderBy *string
	var offsetID string

	var consumed Token
	if req.PageToken != "" {
		tok, err := Decode(req.PageToken)
		if err != nil {
			return Page[T]{}, err
		}
		if tok.OrderBy != nil && *tok.OrderBy != "" && *tok.OrderBy != OrderByIDDesc {
			return Page[T]{}, ErrInvalidToken
		}
		if tok.OffsetID != nil {
			if _, err := ulid.ParseStrict(*tok.OffsetID); err != nil {
				return Page[T]{}, ErrInvalidToken
			}
			offsetID = *tok.OffsetID
		}
		pageSize = tok.PageSize
		orderBy = tok.OrderBy
		consumed = tok
	}
	size := normalizePageSize(pageSize)

	items, err := p.List(ctx, req.Parent, size+1, offsetID)
	if err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{PrevPageToken: req.PageToken}
	if len(items) > size {
		items = items[:size]
		last := p.ItemID(items[len(items)-1])
		next := Token{
			PageSize: uint32(size),
			OrderBy:  orderBy,
			OffsetID: &last,
		}
		if req.PageToken != "" {
			// Only one level of history is kept so tokens stay bounded.
			consumed.PrevPageToken = nil
			prev := Encode(consumed)
			next.PrevPageToken = &prev
		}
		page.NextPageToken = Encode(next)
	}
	page.Items = items

	if c, ok := p.(Counter); ok {
		total, err := c.Count(ctx, req.Parent)
		if err != nil {
			return Page[T]{}, err
		}
		page.TotalSize = &total
	}
	return page, nil
}

func normalizePageSize(size uint32) int {
	switch {
	case size == 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return int(size)
	}
}
