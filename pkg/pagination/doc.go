// Package pagination provides sequential, loop-safe iteration over paginated
// Atlassian endpoints.
//
// An Iterator owns the position and the set of page keys already requested in
// one pagination call. Requesting a key twice means the server handed back a
// cursor or offset it had already served; the iterator then fails with a
// *client.SerializationError instead of looping forever. Pages are fetched
// one at a time, only when the caller asks for more items.
//
// Two termination policies decide the next key:
//
//   - NextCursor for GraphQL connections (hasNextPage, endCursor, edge cursors)
//   - NextOffset for Jira REST pages (startAt, maxResults, total, isLast)
//
// Example usage:
//
//	it := pagination.New(0, fetchProjectsPage, pagination.Options{Kind: pagination.KindOffset})
//	for it.Next(ctx) {
//		project := it.Item()
//		...
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
//
// Abandoning an iterator before it is exhausted is not an error; no request is
// in flight between calls to Next.
package pagination
