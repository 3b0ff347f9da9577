package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/atlassian-client/pkg/client"
)

func intPtr(i int) *int { return &i }
func boolPtr(b bool) *bool { return &b }

func TestNextOffset(t *testing.T) {
	tests := []struct {
		name     string
		page     OffsetPage
		wantNext int
		wantDone bool
		wantErr  bool
	}{
		{
			name:     "isLast true stops",
			page:     OffsetPage{StartAt: 0, PageSize: 50, Returned: 50, Total: intPtr(500), IsLast: boolPtr(true)},
			wantDone: true,
		},
		{
			name:     "total reached despite isLast false",
			page:     OffsetPage{StartAt: 0, PageSize: 50, Returned: 3, Total: intPtr(3), IsLast: boolPtr(false)},
			wantDone: true,
		},
		{
			name:     "isLast false below total continues",
			page:     OffsetPage{StartAt: 0, PageSize: 50, Returned: 50, Total: intPtr(120), IsLast: boolPtr(false)},
			wantNext: 50,
		},
		{
			name:     "empty page past total with isLast false stops",
			page:     OffsetPage{StartAt: 100, PageSize: 50, Returned: 0, Total: intPtr(100), IsLast: boolPtr(false)},
			wantDone: true,
		},
		{
			name:    "empty page contradicting isLast false",
			page:    OffsetPage{StartAt: 100, PageSize: 50, Returned: 0, IsLast: boolPtr(false)},
			wantErr: true,
		},
		{
			name:     "isLast false with short page continues",
			page:     OffsetPage{StartAt: 0, PageSize: 50, Returned: 10, IsLast: boolPtr(false)},
			wantNext: 10,
		},
		{
			name:     "total reached",
			page:     OffsetPage{StartAt: 100, PageSize: 50, Returned: 20, Total: intPtr(120)},
			wantDone: true,
		},
		{
			name:     "total not reached with short page",
			page:     OffsetPage{StartAt: 0, PageSize: 50, Returned: 30, Total: intPtr(100)},
			wantNext: 30,
		},
		{
			name:     "empty page with total stops",
			page:     OffsetPage{StartAt: 50, PageSize: 50, Returned: 0, Total: intPtr(100)},
			wantDone: true,
		},
		{
			name:     "short page heuristic",
			page:     OffsetPage{StartAt: 0, PageSize: 50, Returned: 49},
			wantDone: true,
		},
		{
			name:     "full page continues",
			page:     OffsetPage{StartAt: 50, PageSize: 50, Returned: 50},
			wantNext: 100,
		},
		{
			name:     "empty page stops",
			page:     OffsetPage{StartAt: 50, PageSize: 50, Returned: 0},
			wantDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, done, err := NextOffset(tt.page)
			if tt.wantErr {
				var serErr *client.SerializationError
				if !errors.As(err, &serErr) {
					t.Fatalf("NextOffset() error = %v, want *client.SerializationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NextOffset() unexpected error: %v", err)
			}
			if next != tt.wantNext || done != tt.wantDone {
				t.Errorf("NextOffset() = (%d, %v), want (%d, %v)", next, done, tt.wantNext, tt.wantDone)
			}
		})
	}
}

func TestNewOffset_MonotonicOffsets(t *testing.T) {
	for _, pageSize := range []int{1, 3, 7, 50} {
		const total = 20
		var offsets []int

		it := NewOffset(pageSize, func(_ context.Context, startAt, maxResults int) (OffsetResult[int], error) {
			offsets = append(offsets, startAt)
			var items []int
			for i := startAt; i < startAt+maxResults && i < total; i++ {
				items = append(items, i)
			}
			return OffsetResult[int]{Items: items, Total: intPtr(total)}, nil
		}, Options{Operation: "search"})

		got, err := Collect[int](context.Background(), it)
		if err != nil {
			t.Fatalf("pageSize=%d: Collect() error = %v", pageSize, err)
		}
		if len(got) != total {
			t.Errorf("pageSize=%d: items = %d, want %d", pageSize, len(got), total)
		}
		for i := 1; i < len(offsets); i++ {
			if offsets[i] <= offsets[i-1] {
				t.Errorf("pageSize=%d: offsets not strictly increasing: %v", pageSize, offsets)
				break
			}
		}
	}
}

func TestNewOffset_TotalShrinkingDoesNotLoop(t *testing.T) {
	calls := 0
	it := NewOffset(2, func(_ context.Context, startAt, _ int) (OffsetResult[int], error) {
		calls++
		if calls > 10 {
			t.Fatal("too many requests")
		}
		// A misbehaving server whose isLast flag never flips and whose pages run dry.
		if startAt >= 4 {
			return OffsetResult[int]{IsLast: boolPtr(false)}, nil
		}
		return OffsetResult[int]{Items: []int{startAt, startAt + 1}, IsLast: boolPtr(false)}, nil
	}, Options{Operation: "/rest/api/3/issue/ABC-1/changelog"})

	_, err := Collect[int](context.Background(), it)

	var serErr *client.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("Collect() error = %v, want *client.SerializationError", err)
	}
	if serErr.Operation != "/rest/api/3/issue/ABC-1/changelog" {
		t.Errorf("Operation = %q", serErr.Operation)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestNewOffset_DefaultPageSize(t *testing.T) {
	var maxResults int
	it := NewOffset(0, func(_ context.Context, _ int, m int) (OffsetResult[int], error) {
		maxResults = m
		return OffsetResult[int]{IsLast: boolPtr(true)}, nil
	}, Options{})

	if _, err := Collect[int](context.Background(), it); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if maxResults != 50 {
		t.Errorf("maxResults = %d, want 50", maxResults)
	}
}
