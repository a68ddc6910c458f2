// README: Rider-facing earnings overview (summary, paged records, lifetime) fetched concurrently.
package earnings

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"drop/internal/types"
)

type Reader interface {
	Summary(ctx context.Context, riderID types.ID, since time.Time) (Summary, error)
	List(ctx context.Context, riderID types.ID, since time.Time, limit, offset int) ([]Record, int, error)
	Lifetime(ctx context.Context, riderID types.ID) (Lifetime, error)
}

type Service struct {
	reader Reader
	now    func() time.Time
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader, now: time.Now}
}

type OverviewQuery struct {
	RiderID types.ID
	Period  Period
	Page    int
	Limit   int
}

type Page struct {
	Items      []Record `json:"items"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"total_pages"`
	HasMore    bool     `json:"has_more"`
}

type Overview struct {
	Period   Period   `json:"period"`
	Summary  Summary  `json:"summary"`
	Earnings Page     `json:"earnings"`
	Lifetime Lifetime `json:"lifetime"`
}

func (s *Service) Overview(ctx context.Context, q OverviewQuery) (*Overview, error) {
	page, limit := NormalizePage(q.Page, q.Limit)
	since := q.Period.Start(s.now())

	out := &Overview{Period: q.Period}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := s.reader.Summary(gctx, q.RiderID, since)
		out.Summary = sum
		return err
	})
	g.Go(func() error {
		items, total, err := s.reader.List(gctx, q.RiderID, since, limit, (page-1)*limit)
		if err != nil {
			return err
		}
		totalPages := (total + limit - 1) / limit
		out.Earnings = Page{
			Items:      items,
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		}
		return nil
	})
	g.Go(func() error {
		l, err := s.reader.Lifetime(gctx, q.RiderID)
		out.Lifetime = l
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizePage clamps page to >= 1 and limit to [1,100], defaulting limit to 20.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
