// Package quote serves normalized overview and candle-series data,
// fronting the KIS client with short-lived caches.
package quote

import (
	"context"
	"fmt"
	"time"

	"kis-quote-gateway/internal/cache"
	"kis-quote-gateway/internal/kis"
	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/metrics"
	"kis-quote-gateway/internal/store"
	"kis-quote-gateway/internal/trace"
	"kis-quote-gateway/internal/types"
)

// ValidationError marks a caller mistake (bad range, bad dates) as
// opposed to an upstream failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// restSource is the slice of the KIS client the service reads through.
type restSource interface {
	Overview(ctx context.Context, code string) (map[string]any, error)
	DailyChart(ctx context.Context, code, from, to string) (map[string]any, error)
}

// intradaySource rebuilds today's minute series.
type intradaySource interface {
	Reconstruct(ctx context.Context, code string) (types.Series, error)
}

// Service answers overview and series lookups, caching per key. A
// caller may request a cache bypass; bypasses are rate-limited per
// (client, code, range) through a cooldown ledger so a single client
// cannot hammer upstream by refreshing.
type Service struct {
	rest     restSource
	intraday intradaySource

	cache  *cache.TTLCache
	ledger *cache.TTLCache

	overviewTTL    time.Duration
	intradayTTL    time.Duration
	dailyTTL       time.Duration
	bypassCooldown time.Duration

	now func() time.Time
}

func NewService(rest restSource, intraday intradaySource, cfg *store.Config) *Service {
	return &Service{
		rest:           rest,
		intraday:       intraday,
		cache:          cache.New(),
		ledger:         cache.New(),
		overviewTTL:    seconds(cfg.Cache.OverviewTTLSeconds),
		intradayTTL:    seconds(cfg.Cache.IntradayTTLSeconds),
		dailyTTL:       seconds(cfg.Cache.DailyTTLSeconds),
		bypassCooldown: seconds(cfg.Cache.BypassCooldownSeconds),
		now:            time.Now,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Overview returns the normalized current-price snapshot for code.
func (s *Service) Overview(ctx context.Context, code string) (types.Overview, error) {
	ctx, span := trace.StartSpan(ctx, "quote.Overview")
	defer span.End()

	key := "overview:" + code
	if v, ok := s.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("overview", "hit").Inc()
		return v.(types.Overview), nil
	}
	metrics.CacheLookups.WithLabelValues("overview", "miss").Inc()

	data, err := s.rest.Overview(ctx, code)
	if err != nil {
		return types.Overview{}, err
	}
	ov := kis.TransformOverview(data, code)
	s.cache.Set(key, ov, s.overviewTTL)
	return ov, nil
}

// Series returns the candle series for code over rng ("1d", "1w" or
// "1m"). from/to apply to daily ranges only, default to the last 7 or
// 30 days in KST, and must be YYYYMMDD with from <= to. client
// identifies the caller for bypass cooldown accounting.
func (s *Service) Series(ctx context.Context, client, code, rng, from, to string, bypass bool) (types.Series, error) {
	ctx, span := trace.StartSpan(ctx, "quote.Series")
	defer span.End()

	switch rng {
	case "1d":
		key := "series:" + code + ":1d"
		return s.cached("intraday", key, s.intradayTTL, s.allowBypass(ctx, client, code, rng, bypass),
			func() (types.Series, error) {
				return s.intraday.Reconstruct(ctx, code)
			})

	case "1w", "1m":
		days := 7
		if rng == "1m" {
			days = 30
		}
		today := s.now().In(kis.KST)
		if to == "" {
			to = today.Format("20060102")
		}
		if from == "" {
			from = today.AddDate(0, 0, -days).Format("20060102")
		}
		if !validDate(from) || !validDate(to) {
			return types.Series{}, &ValidationError{Message: "dates must be YYYYMMDD"}
		}
		if from > to {
			return types.Series{}, &ValidationError{Message: fmt.Sprintf("from_date %s is after to_date %s", from, to)}
		}

		key := "series:" + code + ":" + rng + ":" + from + ":" + to
		return s.cached("daily", key, s.dailyTTL, s.allowBypass(ctx, client, code, rng, bypass),
			func() (types.Series, error) {
				data, err := s.rest.DailyChart(ctx, code, from, to)
				if err != nil {
					return types.Series{}, err
				}
				return kis.TransformSeriesDaily(data, code, rng), nil
			})

	default:
		return types.Series{}, &ValidationError{Message: fmt.Sprintf("unsupported range %q", rng)}
	}
}

// cached serves key from cache unless skip is set, fetching and storing
// on a miss.
func (s *Service) cached(kind, key string, ttl time.Duration, skip bool, fetch func() (types.Series, error)) (types.Series, error) {
	if !skip {
		if v, ok := s.cache.Get(key); ok {
			metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
			return v.(types.Series), nil
		}
		metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(kind, "bypass").Inc()
	}

	out, err := fetch()
	if err != nil {
		return types.Series{}, err
	}
	s.cache.Set(key, out, ttl)
	return out, nil
}

// allowBypass grants at most one bypass per (client, code, range) per
// cooldown window. Requests inside the window fall back to the cache
// silently.
func (s *Service) allowBypass(ctx context.Context, client, code, rng string, bypass bool) bool {
	if !bypass || s.bypassCooldown <= 0 {
		return bypass
	}
	key := "bypass:" + client + ":" + code + ":" + rng
	if _, held := s.ledger.Get(key); held {
		logger.Debug(ctx, "cache bypass suppressed by cooldown", "client", client, "code", code, "range", rng)
		return false
	}
	s.ledger.Set(key, true, s.bypassCooldown)
	return true
}

func validDate(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
