package earnings

import (
	"context"
	"errors"
	"testing"
	"time"

	"drop/internal/types"
)

type stubReader struct {
	since       time.Time
	limit       int
	offset      int
	total       int
	lifetimeErr error
}

func (s *stubReader) Summary(_ context.Context, _ types.ID, since time.Time) (Summary, error) {
	s.since = since
	return Summary{Total: types.MustMoney("52"), Deliveries: 1}, nil
}

func (s *stubReader) List(_ context.Context, _ types.ID, _ time.Time, limit, offset int) ([]Record, int, error) {
	s.limit, s.offset = limit, offset
	return []Record{{ID: "e1"}}, s.total, nil
}

func (s *stubReader) Lifetime(context.Context, types.ID) (Lifetime, error) {
	return Lifetime{TotalDeliveries: 7}, s.lifetimeErr
}

func TestOverview(t *testing.T) {
	reader := &stubReader{total: 45}
	svc := NewService(reader)
	now := time.Date(2026, 3, 18, 15, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ov, err := svc.Overview(context.Background(), OverviewQuery{RiderID: "r1", Period: PeriodMonth, Page: 2, Limit: 20})
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if !reader.since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %s", reader.since)
	}
	if reader.offset != 20 || reader.limit != 20 {
		t.Errorf("limit/offset = %d/%d", reader.limit, reader.offset)
	}
	if ov.Earnings.TotalPages != 3 || !ov.Earnings.HasMore {
		t.Errorf("pages = %d hasMore=%v", ov.Earnings.TotalPages, ov.Earnings.HasMore)
	}
	if ov.Lifetime.TotalDeliveries != 7 || ov.Summary.Deliveries != 1 {
		t.Errorf("unexpected overview %+v", ov)
	}
}

func TestOverviewPropagatesErrors(t *testing.T) {
	svc := NewService(&stubReader{lifetimeErr: ErrRiderNotFound})
	if _, err := svc.Overview(context.Background(), OverviewQuery{RiderID: "r1"}); !errors.Is(err, ErrRiderNotFound) {
		t.Fatalf("expected ErrRiderNotFound, got %v", err)
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 3, 18, 15, 4, 5, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"today", time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)},
		{"", time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)},
		{"bogus", time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)},
		{"week", now.Add(-7 * 24 * time.Hour)},
		{"month", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"all", time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		if got := ParsePeriod(tc.in).Start(now); !got.Equal(tc.want) {
			t.Errorf("period %q start = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct{ page, limit, wantPage, wantLimit int }{
		{0, 0, 1, 20},
		{-3, 500, 1, 100},
		{4, 5, 4, 5},
	}
	for _, tc := range cases {
		p, l := NormalizePage(tc.page, tc.limit)
		if p != tc.wantPage || l != tc.wantLimit {
			t.Errorf("NormalizePage(%d,%d) = %d,%d", tc.page, tc.limit, p, l)
		}
	}
}
