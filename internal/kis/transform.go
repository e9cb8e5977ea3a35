package kis

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"kis-quote-gateway/internal/types"
)

// KST is the exchange timezone. Falls back to a fixed +09:00 offset when
// the system has no tzdata.
var KST = loadKST()

func loadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Field maps keep upstream renames in one place.
var overviewFieldMap = map[string]string{
	"last_price":    "stck_prpr",
	"change":        "prdy_vrss",
	"change_sign":   "prdy_vrss_sign",
	"change_rate":   "prdy_ctrt",
	"open":          "stck_oprc",
	"high":          "stck_hgpr",
	"low":           "stck_lwpr",
	"volume":        "acml_vol",
	"trading_value": "acml_tr_pbmn",
	"name":          "hts_kor_isnm",
}

var timePointFieldMap = map[string]string{
	"date":   "stck_bsop_date",
	"time":   "stck_cntg_hour",
	"open":   "stck_oprc",
	"high":   "stck_hgpr",
	"low":    "stck_lwpr",
	"close":  "stck_prpr",
	"volume": "cntg_vol",
}

var dailyPointFieldMap = map[string]string{
	"date":   "stck_bsop_date",
	"open":   "stck_oprc",
	"high":   "stck_hgpr",
	"low":    "stck_lwpr",
	"close":  "stck_clpr",
	"volume": "acml_vol",
}

// Sign codes: 1/2 mark upward moves, 4/5 downward. The magnitude arrives
// unsigned.
func signNegative(sign string) bool {
	return sign == "4" || sign == "5"
}

func parseInt(v any) (int64, bool) {
	f, ok := parseFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func parseFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		text := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if text == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// applySign adjusts an unsigned magnitude by its KIS sign code.
func applySign(v any, sign any) (float64, bool) {
	num, ok := parseFloat(v)
	if !ok {
		return 0, false
	}
	if num < 0 {
		return num, true
	}
	signText := ""
	if sign != nil {
		signText = strings.TrimSpace(toString(sign))
	}
	if signNegative(signText) {
		return -num, true
	}
	return num, true
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// toEpochMS converts a YYYYMMDD date and an optional HHMMSS time (HHMM
// and HMMSS tolerated) into epoch milliseconds in KST.
func toEpochMS(dateStr, timeStr string) (int64, bool) {
	if dateStr == "" {
		return 0, false
	}
	timeText := strings.TrimSpace(timeStr)
	if timeText == "" {
		timeText = "000000"
	}
	if len(timeText) == 4 {
		timeText += "00"
	}
	if len(timeText) == 5 {
		timeText = "0" + timeText
	}
	if len(timeText) != 6 {
		return 0, false
	}
	t, err := time.ParseInLocation("20060102150405", dateStr+timeText, KST)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// Resample buckets points into fixed interval windows: first open, max
// high, min low, last close, summed volume. Output is ascending by t.
func Resample(points []types.CandlePoint, interval time.Duration) []types.CandlePoint {
	if interval <= 0 || len(points) == 0 {
		return points
	}
	intervalMS := interval.Milliseconds()

	sorted := make([]types.CandlePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	buckets := make([]types.CandlePoint, 0, len(sorted))
	var current *types.CandlePoint
	for _, p := range sorted {
		bucketTS := p.T - (p.T % intervalMS)
		if current == nil || current.T != bucketTS {
			buckets = append(buckets, types.CandlePoint{
				T: bucketTS, O: p.O, H: p.H, L: p.L, C: p.C, V: p.V,
			})
			current = &buckets[len(buckets)-1]
			continue
		}
		if p.H > current.H {
			current.H = p.H
		}
		if p.L < current.L {
			current.L = p.L
		}
		current.C = p.C
		current.V += p.V
	}
	return buckets
}

// TransformOverview maps a KIS inquire-price payload into the normalized
// overview shape, applying sign-code adjustment to the change fields.
func TransformOverview(data map[string]any, code string) types.Overview {
	output, _ := data["output"].(map[string]any)

	ov := types.Overview{
		Code:      code,
		UpdatedAt: time.Now().In(KST).Format(time.RFC3339),
	}
	if output == nil {
		return ov
	}

	ov.Name, _ = output[overviewFieldMap["name"]].(string)
	ov.LastPrice, _ = parseInt(output[overviewFieldMap["last_price"]])
	ov.Open, _ = parseInt(output[overviewFieldMap["open"]])
	ov.High, _ = parseInt(output[overviewFieldMap["high"]])
	ov.Low, _ = parseInt(output[overviewFieldMap["low"]])
	ov.Volume, _ = parseInt(output[overviewFieldMap["volume"]])
	ov.TradingValue, _ = parseInt(output[overviewFieldMap["trading_value"]])

	sign := output[overviewFieldMap["change_sign"]]
	ov.Change, _ = applySign(output[overviewFieldMap["change"]], sign)
	ov.ChangeRate, _ = applySign(output[overviewFieldMap["change_rate"]], sign)
	return ov
}

// timeRowToPoint converts one minute-candle row. Rows missing any
// required OHLC field are dropped.
func timeRowToPoint(row map[string]any) (types.CandlePoint, bool) {
	dateStr := toString(row[timePointFieldMap["date"]])
	timeStr := toString(row[timePointFieldMap["time"]])
	t, tok := toEpochMS(dateStr, timeStr)
	o, ook := parseInt(row[timePointFieldMap["open"]])
	h, hok := parseInt(row[timePointFieldMap["high"]])
	l, lok := parseInt(row[timePointFieldMap["low"]])
	c, cok := parseInt(row[timePointFieldMap["close"]])
	if !tok || !ook || !hok || !lok || !cok {
		return types.CandlePoint{}, false
	}
	v, _ := parseInt(row[timePointFieldMap["volume"]])
	return types.CandlePoint{T: t, O: o, H: h, L: l, C: c, V: v}, true
}

// TransformSeriesTime maps minute-candle rows into a resampled intraday
// series.
func TransformSeriesTime(rows []map[string]any, code, rangeLabel string, interval time.Duration) types.Series {
	raw := make([]types.CandlePoint, 0, len(rows))
	for _, row := range rows {
		if p, ok := timeRowToPoint(row); ok {
			raw = append(raw, p)
		}
	}

	points := raw
	if interval > time.Minute {
		points = Resample(raw, interval)
	} else {
		sort.Slice(points, func(i, j int) bool { return points[i].T < points[j].T })
	}

	intervalLabel := strconv.Itoa(int(interval.Minutes())) + "m"
	return types.Series{
		Code:     code,
		Range:    rangeLabel,
		Timezone: "Asia/Seoul",
		Currency: "KRW",
		Points:   points,
		Meta:     types.SeriesMeta{Source: "KIS", Interval: intervalLabel},
	}
}

// TransformSeriesDaily maps daily-candle rows into a series sorted
// ascending by date.
func TransformSeriesDaily(data map[string]any, code, rangeLabel string) types.Series {
	rows := outputRows(data, "output2")

	points := make([]types.CandlePoint, 0, len(rows))
	for _, row := range rows {
		dateStr := toString(row[dailyPointFieldMap["date"]])
		t, tok := toEpochMS(dateStr, "000000")
		o, ook := parseInt(row[dailyPointFieldMap["open"]])
		h, hok := parseInt(row[dailyPointFieldMap["high"]])
		l, lok := parseInt(row[dailyPointFieldMap["low"]])
		c, cok := parseInt(row[dailyPointFieldMap["close"]])
		if !tok || !ook || !hok || !lok || !cok {
			continue
		}
		v, _ := parseInt(row[dailyPointFieldMap["volume"]])
		points = append(points, types.CandlePoint{T: t, O: o, H: h, L: l, C: c, V: v})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].T < points[j].T })

	return types.Series{
		Code:     code,
		Range:    rangeLabel,
		Timezone: "Asia/Seoul",
		Currency: "KRW",
		Points:   points,
		Meta:     types.SeriesMeta{Source: "KIS", Interval: "1d"},
	}
}

// outputRows extracts a list-of-objects payload field, tolerating absent
// or mistyped values.
func outputRows(data map[string]any, field string) []map[string]any {
	list, _ := data[field].([]any)
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}
