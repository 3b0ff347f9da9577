package pagination

import (
	"context"
	"errors"
	"strings"

	"github.com/Sternrassler/atlassian-client/pkg/client"
)

// PageInfo is the GraphQL connection page descriptor.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor,omitempty"`
}

// Edge wraps a node and its optional cursor.
type Edge[T any] struct {
	Cursor *string `json:"cursor,omitempty"`
	Node   T       `json:"node"`
}

// Connection is a GraphQL relay-style connection.
type Connection[T any] struct {
	PageInfo PageInfo  `json:"pageInfo"`
	Edges    []Edge[T] `json:"edges"`
}

// Nodes returns the edge nodes in server order.
func (c Connection[T]) Nodes() []T {
	nodes := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}

// Cursors returns the edge cursors in server order; missing cursors are empty.
func (c Connection[T]) Cursors() []string {
	cursors := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		if e.Cursor != nil {
			cursors[i] = *e.Cursor
		}
	}
	return cursors
}

// NextCursor decides where a connection continues.
//
// hasNextPage=false ends the connection whatever cursors are present. Otherwise
// a non-blank endCursor wins, then the last non-blank edge cursor. With
// neither there is no deterministic next key and a *client.SerializationError
// is returned.
func NextCursor(info PageInfo, edgeCursors []string) (next string, done bool, err error) {
	if !info.HasNextPage {
		return "", true, nil
	}
	if info.EndCursor != nil {
		if c := strings.TrimSpace(*info.EndCursor); c != "" {
			return c, false, nil
		}
	}
	for i := len(edgeCursors) - 1; i >= 0; i-- {
		if c := strings.TrimSpace(edgeCursors[i]); c != "" {
			return c, false, nil
		}
	}
	return "", false, client.NewSerializationError("", "pagination cursor missing while hasNextPage is true")
}

// CursorFetchFunc fetches the connection page after the given cursor.
// after is nil for the first page.
type CursorFetchFunc[T any] func(ctx context.Context, after *string) (Connection[T], error)

// NewCursor walks a connection starting after initial ("" for the first page).
func NewCursor[T any](initial string, fetch CursorFetchFunc[T], opts Options) *Iterator[string, T] {
	opts.Kind = KindCursor
	return New(initial, func(ctx context.Context, key string) (Page[string, T], error) {
		var after *string
		if key != "" {
			after = &key
		}
		conn, err := fetch(ctx, after)
		if err != nil {
			return Page[string, T]{}, err
		}
		return ConnectionPage(conn, opts.Operation)
	}, opts)
}

// ConnectionPage converts a fetched connection into a Page using NextCursor.
func ConnectionPage[T any](conn Connection[T], operation string) (Page[string, T], error) {
	next, done, err := NextCursor(conn.PageInfo, conn.Cursors())
	if err != nil {
		return Page[string, T]{}, withOperation(err, operation)
	}
	return Page[string, T]{Items: conn.Nodes(), Next: next, Done: done}, nil
}

func withOperation(err error, operation string) error {
	var serErr *client.SerializationError
	if operation != "" && errors.As(err, &serErr) && serErr.Operation == "" {
		serErr.Operation = operation
	}
	return err
}
