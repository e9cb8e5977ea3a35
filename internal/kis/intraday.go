package kis

import (
	"context"
	"time"

	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/types"
)

// Regular session and after-hours bounds (HHMMSS, KST).
const (
	sessionOpen  = "090000"
	sessionClose = "153000"
	overtimeEnd  = "180000"

	overtimeMaxCalls  = 6
	fillerStep        = 10 * time.Minute
	intradayResample  = 5 * time.Minute
	dailyFallbackDays = 7
)

// IntradaySource supplies the upstream pages the reconstructor merges.
// *Client implements it.
type IntradaySource interface {
	MinutePage(ctx context.Context, code, cursor string) ([]map[string]any, error)
	OvertimeMinutePage(ctx context.Context, code, cursor string) ([]map[string]any, error)
	OvertimeDailyAnchor(ctx context.Context, code string) (map[string]any, error)
	OvertimeQuote(ctx context.Context, code string) (map[string]any, error)
	DailyChart(ctx context.Context, code, from, to string) (map[string]any, error)
}

var _ IntradaySource = (*Client)(nil)

// Reconstructor rebuilds a full trading session from the ~30-row pages
// the minute-candle endpoint returns, paginating backward from now and
// merging extended-hours sources on top.
type Reconstructor struct {
	source   IntradaySource
	maxCalls int
	now      func() time.Time
}

func NewReconstructor(source IntradaySource, maxCalls int) *Reconstructor {
	if maxCalls <= 0 {
		maxCalls = 20
	}
	return &Reconstructor{source: source, maxCalls: maxCalls, now: time.Now}
}

// Reconstruct assembles today's 1d series for code.
func (r *Reconstructor) Reconstruct(ctx context.Context, code string) (types.Series, error) {
	now := r.now().In(KST)
	today := now.Format("20060102")

	acc := make(map[string]map[string]any)
	order := make([]string, 0, 512)
	merge := func(row map[string]any) bool {
		date := toString(row[timePointFieldMap["date"]])
		tm := toString(row[timePointFieldMap["time"]])
		if date == "" || tm == "" {
			return false
		}
		key := date + tm
		if _, dup := acc[key]; dup {
			return false
		}
		acc[key] = row
		order = append(order, key)
		return true
	}

	if err := r.paginateSession(ctx, code, today, now, merge); err != nil {
		return types.Series{}, err
	}

	r.mergeExtendedHours(ctx, code, today, now, acc, merge)

	rows := make([]map[string]any, 0, len(order))
	for _, key := range order {
		rows = append(rows, acc[key])
	}

	series := TransformSeriesTime(rows, code, "1d", intradayResample)

	if allZeroPrice(series.Points) {
		if point, ok := r.dailyCloseFallback(ctx, code, today, now); ok {
			series.Points = []types.CandlePoint{point}
		}
	}
	return series, nil
}

// paginateSession walks the regular session backward from now. The first
// page failing fails the request; a later page failing ends pagination
// with the rows gathered so far.
func (r *Reconstructor) paginateSession(ctx context.Context, code, today string, now time.Time, merge func(map[string]any) bool) error {
	cursor := clampClock(now.Format("150405"), sessionOpen, sessionClose)

	for calls := 0; calls < r.maxCalls; calls++ {
		rows, err := r.source.MinutePage(ctx, code, cursor)
		if err != nil {
			if calls == 0 {
				return err
			}
			logger.Warn(ctx, "intraday page failed, returning partial series",
				"code", code, "cursor", cursor, "calls", calls, "error", err)
			return nil
		}
		if len(rows) == 0 {
			return nil
		}

		pageOldest := ""
		newCount := 0
		oldestNewDate, oldestNewTime := "", ""
		for _, row := range rows {
			date := toString(row[timePointFieldMap["date"]])
			tm := toString(row[timePointFieldMap["time"]])
			if tm == "" {
				continue
			}
			if pageOldest == "" || tm < pageOldest {
				pageOldest = tm
			}
			if !merge(row) {
				continue
			}
			newCount++
			// Oldest by (date, time): a previous session's row outranks
			// any of today's.
			if oldestNewTime == "" || date+tm < oldestNewDate+oldestNewTime {
				oldestNewTime = tm
				oldestNewDate = date
			}
		}

		if pageOldest == "" {
			return nil
		}
		if newCount == 0 {
			if pageOldest <= sessionOpen {
				return nil
			}
			cursor = secondBefore(pageOldest)
			continue
		}
		// An older-dated row means the session start was crossed; at or
		// before 09:00 there is nothing earlier to fetch.
		if oldestNewDate != today || oldestNewTime <= sessionOpen {
			return nil
		}
		cursor = secondBefore(oldestNewTime)
	}
	return nil
}

// mergeExtendedHours layers the optional after-hours sources into the
// accumulated row set. Each source is attempted independently; a failure
// only narrows the merged result.
func (r *Reconstructor) mergeExtendedHours(ctx context.Context, code, today string, now time.Time, acc map[string]map[string]any, merge func(map[string]any) bool) {
	overtimeRows := r.paginateOvertime(ctx, code, now, merge)

	anchor, err := r.source.OvertimeDailyAnchor(ctx, code)
	if err != nil {
		logger.Warn(ctx, "overtime daily anchor unavailable", "code", code, "error", err)
		anchor = nil
	}

	// Without the richer time-indexed source, bridge the gap between the
	// regular close and the daily anchor with flat-price filler rows.
	if overtimeRows == 0 && anchor != nil {
		if close, ok := parseInt(anchor[dailyPointFieldMap["close"]]); ok && close > 0 {
			anchorTime := toString(anchor[timePointFieldMap["time"]])
			if anchorTime == "" {
				anchorTime = overtimeEnd
			}
			for _, tm := range clockSteps(sessionClose, anchorTime, fillerStep) {
				merge(flatRow(today, tm, close))
			}
		}
	}

	quote, err := r.source.OvertimeQuote(ctx, code)
	if err != nil {
		logger.Warn(ctx, "overtime quote unavailable", "code", code, "error", err)
		return
	}
	if quote == nil {
		return
	}
	if price, ok := parseInt(quote[overviewFieldMap["last_price"]]); ok && price > 0 {
		tm := clampClock(now.Format("150405"), sessionClose, overtimeEnd)
		merge(flatRow(today, tm, price))
	}
}

// paginateOvertime walks the after-hours window backward. Returns how
// many rows it contributed; errors end the walk silently.
func (r *Reconstructor) paginateOvertime(ctx context.Context, code string, now time.Time, merge func(map[string]any) bool) int {
	cursor := clampClock(now.Format("150405"), sessionClose, overtimeEnd)
	merged := 0

	for calls := 0; calls < overtimeMaxCalls; calls++ {
		rows, err := r.source.OvertimeMinutePage(ctx, code, cursor)
		if err != nil {
			logger.Warn(ctx, "overtime page unavailable", "code", code, "cursor", cursor, "error", err)
			return merged
		}
		if len(rows) == 0 {
			return merged
		}

		pageOldest := ""
		for _, row := range rows {
			tm := toString(row[timePointFieldMap["time"]])
			if tm == "" {
				continue
			}
			if pageOldest == "" || tm < pageOldest {
				pageOldest = tm
			}
			if merge(row) {
				merged++
			}
		}
		if pageOldest == "" || pageOldest <= sessionClose {
			return merged
		}
		cursor = secondBefore(pageOldest)
	}
	return merged
}

// dailyCloseFallback returns a single synthetic point at session close
// priced at the most recent valid daily close.
func (r *Reconstructor) dailyCloseFallback(ctx context.Context, code, today string, now time.Time) (types.CandlePoint, bool) {
	from := now.AddDate(0, 0, -dailyFallbackDays).Format("20060102")
	data, err := r.source.DailyChart(ctx, code, from, today)
	if err != nil {
		logger.Warn(ctx, "daily close fallback unavailable", "code", code, "error", err)
		return types.CandlePoint{}, false
	}

	daily := TransformSeriesDaily(data, code, "1d")
	for i := len(daily.Points) - 1; i >= 0; i-- {
		if daily.Points[i].C > 0 {
			close := daily.Points[i].C
			ts, _ := toEpochMS(today, sessionClose)
			return types.CandlePoint{T: ts, O: close, H: close, L: close, C: close, V: 0}, true
		}
	}
	return types.CandlePoint{}, false
}

func allZeroPrice(points []types.CandlePoint) bool {
	for _, p := range points {
		if p.C != 0 {
			return false
		}
	}
	return true
}

// flatRow synthesizes a minute row whose OHLC all equal price.
func flatRow(date, tm string, price int64) map[string]any {
	return map[string]any{
		timePointFieldMap["date"]:   date,
		timePointFieldMap["time"]:   tm,
		timePointFieldMap["open"]:   price,
		timePointFieldMap["high"]:   price,
		timePointFieldMap["low"]:    price,
		timePointFieldMap["close"]:  price,
		timePointFieldMap["volume"]: int64(0),
	}
}

// clampClock bounds an HHMMSS clock string to [lo, hi].
func clampClock(clock, lo, hi string) string {
	if clock < lo {
		return lo
	}
	if clock > hi {
		return hi
	}
	return clock
}

// secondBefore returns the HHMMSS clock one second earlier.
func secondBefore(clock string) string {
	t, err := time.Parse("150405", clock)
	if err != nil {
		return clock
	}
	return t.Add(-time.Second).Format("150405")
}

// clockSteps lists HHMMSS clocks strictly after from, stepping by step,
// up to and including to.
func clockSteps(from, to string, step time.Duration) []string {
	start, err1 := time.Parse("150405", from)
	end, err2 := time.Parse("150405", to)
	if err1 != nil || err2 != nil || !end.After(start) {
		return nil
	}
	var out []string
	for t := start.Add(step); !t.After(end); t = t.Add(step) {
		out = append(out, t.Format("150405"))
	}
	// Always land on the anchor itself.
	if len(out) == 0 || out[len(out)-1] != to {
		out = append(out, to)
	}
	return out
}
