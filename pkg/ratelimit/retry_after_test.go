package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2021, 5, 10, 10, 59, 58, 0, time.UTC)

	tests := []struct {
		name        string
		raw         string
		wantTime    time.Time
		wantVariant RetryAfterVariant
		wantErr     bool
	}{
		{
			name:        "delta seconds",
			raw:         "5",
			wantTime:    now.Add(5 * time.Second),
			wantVariant: VariantDeltaSeconds,
		},
		{
			name:        "zero seconds",
			raw:         "0",
			wantTime:    now,
			wantVariant: VariantDeltaSeconds,
		},
		{
			name:        "surrounding whitespace",
			raw:         "  12 ",
			wantTime:    now.Add(12 * time.Second),
			wantVariant: VariantDeltaSeconds,
		},
		{
			name:        "iso8601 minutes with Z",
			raw:         "2021-05-10T11:00Z",
			wantTime:    time.Date(2021, 5, 10, 11, 0, 0, 0, time.UTC),
			wantVariant: VariantISO8601,
		},
		{
			name:        "iso8601 with offset",
			raw:         "2021-05-10T13:00:30+02:00",
			wantTime:    time.Date(2021, 5, 10, 11, 0, 30, 0, time.UTC),
			wantVariant: VariantISO8601,
		},
		{
			name:        "iso8601 fractional seconds",
			raw:         "2021-05-10T11:00:00.250Z",
			wantTime:    time.Date(2021, 5, 10, 11, 0, 0, 250_000_000, time.UTC),
			wantVariant: VariantISO8601,
		},
		{
			name:        "iso8601 without zone is UTC",
			raw:         "2021-05-10T11:00:00",
			wantTime:    time.Date(2021, 5, 10, 11, 0, 0, 0, time.UTC),
			wantVariant: VariantISO8601,
		},
		{
			name:        "past instant is returned as is",
			raw:         "2021-05-10T10:00:00Z",
			wantTime:    time.Date(2021, 5, 10, 10, 0, 0, 0, time.UTC),
			wantVariant: VariantISO8601,
		},
		{name: "garbage", raw: "not-a-date", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "blank", raw: "   ", wantErr: true},
		{name: "http date", raw: "Wed, 21 Oct 2015 07:28:00 GMT", wantErr: true},
		{name: "negative seconds", raw: "-5", wantErr: true},
		{name: "fractional seconds", raw: "1.5", wantErr: true},
		{name: "overflowing seconds", raw: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, variant, err := ParseRetryAfter(tt.raw, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRetryAfter(%q) expected error, got %v", tt.raw, got)
				}
				if !errors.Is(err, ErrMalformedRetryAfter) {
					t.Errorf("error = %v, want ErrMalformedRetryAfter", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRetryAfter(%q) unexpected error: %v", tt.raw, err)
			}
			if !got.Equal(tt.wantTime) {
				t.Errorf("time = %v, want %v", got, tt.wantTime)
			}
			if variant != tt.wantVariant {
				t.Errorf("variant = %q, want %q", variant, tt.wantVariant)
			}
		})
	}
}

func TestParseRetryAfter_WaitFromNow(t *testing.T) {
	now := time.Date(2021, 5, 10, 10, 59, 58, 0, time.UTC)

	retryAt, _, err := ParseRetryAfter("2021-05-10T11:00Z", now)
	if err != nil {
		t.Fatalf("ParseRetryAfter() error = %v", err)
	}
	if wait := retryAt.Sub(now); wait != 2*time.Second {
		t.Errorf("wait = %v, want 2s", wait)
	}
}
