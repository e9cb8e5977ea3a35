package types

// Overview is the normalized current-price summary for one instrument.
type Overview struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	LastPrice    int64   `json:"last_price"`
	Change       float64 `json:"change"`
	ChangeRate   float64 `json:"change_rate"`
	Open         int64   `json:"open"`
	High         int64   `json:"high"`
	Low          int64   `json:"low"`
	Volume       int64   `json:"volume"`
	TradingValue int64   `json:"trading_value"`
	UpdatedAt    string  `json:"updated_at"`
}

// CandlePoint is one OHLCV bucket, timestamped in epoch milliseconds.
type CandlePoint struct {
	T int64 `json:"t"`
	O int64 `json:"o"`
	H int64 `json:"h"`
	L int64 `json:"l"`
	C int64 `json:"c"`
	V int64 `json:"v"`
}

// SeriesMeta describes how a series was produced.
type SeriesMeta struct {
	Source   string `json:"source"`
	Interval string `json:"interval"`
}

// Series is a time-ordered candle series for one instrument and range.
type Series struct {
	Code     string        `json:"code"`
	Range    string        `json:"range"`
	Timezone string        `json:"tz"`
	Currency string        `json:"currency"`
	Points   []CandlePoint `json:"points"`
	Meta     SeriesMeta    `json:"meta"`
}

// Tick is one decoded real-time trade from the streaming feed.
type Tick struct {
	Code         string  `json:"code"`
	Time         string  `json:"time"`
	Price        int64   `json:"price"`
	Change       float64 `json:"change"`
	ChangeRate   float64 `json:"change_rate"`
	Open         int64   `json:"open"`
	High         int64   `json:"high"`
	Low          int64   `json:"low"`
	Volume       int64   `json:"volume"`
	TradingValue int64   `json:"trading_value"`
}
