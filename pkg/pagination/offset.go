package pagination

import (
	"context"

	"github.com/Sternrassler/atlassian-client/pkg/client"
)

// OffsetPage describes one fetched offset page.
type OffsetPage struct {
	StartAt  int
	PageSize int
	Returned int

	// Total and IsLast are nil when the response omitted them.
	Total  *int
	IsLast *bool
}

// NextOffset decides where an offset-paginated resource continues.
//
// Precedence: isLast=true, then total (stop once startAt+returned >= total,
// even when isLast=false), then the returned < pageSize heuristic. An empty
// page stops, except when isLast=false claims more data, which is a
// *client.SerializationError.
func NextOffset(p OffsetPage) (next int, done bool, err error) {
	if p.IsLast != nil {
		if *p.IsLast {
			return 0, true, nil
		}
		if p.Total != nil && p.StartAt+p.Returned >= *p.Total {
			return 0, true, nil
		}
		if p.Returned == 0 {
			return 0, false, client.NewSerializationError("",
				"empty page at startAt=%d while isLast=false", p.StartAt)
		}
		return p.StartAt + p.Returned, false, nil
	}

	if p.Returned == 0 {
		return 0, true, nil
	}
	if p.Total != nil {
		if p.StartAt+p.Returned >= *p.Total {
			return 0, true, nil
		}
		return p.StartAt + p.Returned, false, nil
	}
	if p.Returned < p.PageSize {
		return 0, true, nil
	}
	return p.StartAt + p.Returned, false, nil
}

// OffsetResult is what an offset page fetch returns.
type OffsetResult[T any] struct {
	Items  []T
	Total  *int
	IsLast *bool
}

// OffsetFetchFunc fetches maxResults items starting at startAt.
type OffsetFetchFunc[T any] func(ctx context.Context, startAt, maxResults int) (OffsetResult[T], error)

// NewOffset walks an offset-paginated resource from startAt 0.
func NewOffset[T any](pageSize int, fetch OffsetFetchFunc[T], opts Options) *Iterator[int, T] {
	opts.Kind = KindOffset
	if pageSize <= 0 {
		pageSize = 50
	}
	return New(0, func(ctx context.Context, startAt int) (Page[int, T], error) {
		result, err := fetch(ctx, startAt, pageSize)
		if err != nil {
			return Page[int, T]{}, err
		}
		next, done, err := NextOffset(OffsetPage{
			StartAt:  startAt,
			PageSize: pageSize,
			Returned: len(result.Items),
			Total:    result.Total,
			IsLast:   result.IsLast,
		})
		if err != nil {
			return Page[int, T]{}, withOperation(err, opts.Operation)
		}
		return Page[int, T]{Items: result.Items, Next: next, Done: done}, nil
	}, opts)
}
