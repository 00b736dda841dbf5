package leaderboard

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/trader-chat/internal/database"
)

type Source interface {
	ListSignalMetadata(ctx context.Context, filter database.SignalFilter) ([]database.SignalMetadata, error)
}

type Query struct {
	Period Period
	SortBy SortKey
	// Limit of zero or less means unbounded.
	Limit int
}

func (q Query) cacheKey() string {
	return fmt.Sprintf("%s:%s:%d", q.Period, q.SortBy, q.Limit)
}

// Service reads official signal rows and ranks their authors, caching the
// result until the next Invalidate.
type Service struct {
	src          Source
	cache        Cache
	minCompleted int
	log          *log.Logger
	now          func() time.Time
}

func NewService(src Source, cache Cache, minCompleted int, logger *log.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if minCompleted <= 0 {
		minCompleted = DefaultMinCompletedSignals
	}
	return &Service{
		src:          src,
		cache:        cache,
		minCompleted: minCompleted,
		log:          logger,
		now:          time.Now,
	}
}

func (s *Service) MinCompletedSignals() int {
	return s.minCompleted
}

func (s *Service) Leaderboard(ctx context.Context, q Query) ([]TraderSummary, error) {
	if q.Period == "" {
		q.Period = PeriodAll
	}
	if q.SortBy == "" {
		q.SortBy = SortWinRate
	}

	// The generation is read before the source query. An Invalidate that
	// lands while the query runs leaves the Set below in a dead generation.
	key := q.cacheKey()
	cached, gen, ok, cacheErr := s.cache.Get(ctx, key)
	if cacheErr != nil {
		s.log.Println("leaderboard cache get:", cacheErr)
	} else if ok {
		return cached, nil
	}

	metadata, err := s.src.ListSignalMetadata(ctx, database.SignalFilter{Since: q.Period.Since(s.now())})
	if err != nil {
		return nil, err
	}

	rows := Compute(metadata, Options{
		MinCompletedSignals: s.minCompleted,
		SortBy:              q.SortBy,
		Limit:               q.Limit,
	})

	if cacheErr == nil {
		if err := s.cache.Set(ctx, gen, key, rows); err != nil {
			s.log.Println("leaderboard cache set:", err)
		}
	}
	return rows, nil
}

func (s *Service) Analytics(ctx context.Context, username string, period Period) (TraderAnalytics, error) {
	metadata, err := s.src.ListSignalMetadata(ctx, database.SignalFilter{
		Author: username,
		Since:  period.Since(s.now()),
	})
	if err != nil {
		return TraderAnalytics{}, err
	}

	return Analyze(username, metadata), nil
}

// Invalidate drops cached leaderboards. It is called synchronously after
// every signal post, close and delete.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Println("leaderboard cache invalidate:", err)
	}
}
