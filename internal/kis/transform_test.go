package kis

import (
	"testing"
	"time"

	"kis-quote-gateway/internal/types"
)

func TestApplySign(t *testing.T) {
	cases := []struct {
		value string
		sign  string
		want  float64
	}{
		{"100", "5", -100},
		{"100", "4", -100},
		{"100", "2", 100},
		{"100", "1", 100},
		{"100", "3", 100},
		{"-50", "2", -50}, // already signed magnitudes pass through
	}
	for _, tc := range cases {
		got, ok := applySign(tc.value, tc.sign)
		if !ok {
			t.Fatalf("applySign(%q, %q) not ok", tc.value, tc.sign)
		}
		if got != tc.want {
			t.Errorf("applySign(%q, %q) = %v, want %v", tc.value, tc.sign, got, tc.want)
		}
	}

	if _, ok := applySign("", "2"); ok {
		t.Error("empty value should not parse")
	}
}

func TestParseIntToleratesFormatting(t *testing.T) {
	if v, ok := parseInt("71,500"); !ok || v != 71500 {
		t.Errorf("parseInt comma = %d/%v", v, ok)
	}
	if v, ok := parseInt(" 42 "); !ok || v != 42 {
		t.Errorf("parseInt spaces = %d/%v", v, ok)
	}
	if _, ok := parseInt(""); ok {
		t.Error("blank should not parse")
	}
	if _, ok := parseInt(nil); ok {
		t.Error("nil should not parse")
	}
}

func TestTransformOverview(t *testing.T) {
	data := map[string]any{
		"rt_cd": "0",
		"output": map[string]any{
			"hts_kor_isnm":   "삼성전자",
			"stck_prpr":      "71500",
			"prdy_vrss":      "500",
			"prdy_vrss_sign": "2",
			"prdy_ctrt":      "0.70",
			"stck_oprc":      "71000",
			"stck_hgpr":      "71800",
			"stck_lwpr":      "70900",
			"acml_vol":       "12345678",
			"acml_tr_pbmn":   "881234567890",
		},
	}

	ov := TransformOverview(data, "005930")
	if ov.Code != "005930" {
		t.Errorf("code = %q", ov.Code)
	}
	if ov.LastPrice != 71500 {
		t.Errorf("last_price = %d, want 71500", ov.LastPrice)
	}
	if ov.Change != 500 {
		t.Errorf("change = %v, want +500", ov.Change)
	}
	if ov.ChangeRate != 0.70 {
		t.Errorf("change_rate = %v, want 0.70", ov.ChangeRate)
	}
	if ov.Name != "삼성전자" {
		t.Errorf("name = %q", ov.Name)
	}

	// Downward sign code flips the magnitudes.
	out := data["output"].(map[string]any)
	out["prdy_vrss_sign"] = "5"
	ov = TransformOverview(data, "005930")
	if ov.Change != -500 {
		t.Errorf("change = %v, want -500", ov.Change)
	}
	if ov.ChangeRate != -0.70 {
		t.Errorf("change_rate = %v, want -0.70", ov.ChangeRate)
	}
}

func TestToEpochMS(t *testing.T) {
	ms, ok := toEpochMS("20240102", "090000")
	if !ok {
		t.Fatal("toEpochMS failed")
	}
	want := time.Date(2024, 1, 2, 9, 0, 0, 0, KST).UnixMilli()
	if ms != want {
		t.Errorf("epoch = %d, want %d", ms, want)
	}

	// HHMM and HMMSS forms are tolerated.
	if _, ok := toEpochMS("20240102", "0900"); !ok {
		t.Error("HHMM should parse")
	}
	if _, ok := toEpochMS("20240102", "90000"); !ok {
		t.Error("HMMSS should parse")
	}
	if _, ok := toEpochMS("", "090000"); ok {
		t.Error("empty date should fail")
	}
	if _, ok := toEpochMS("20240102", "9:00"); ok {
		t.Error("malformed time should fail")
	}
}

func TestResampleFiveMinutes(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, KST).UnixMilli()
	minute := int64(60_000)

	points := make([]types.CandlePoint, 0, 5)
	for i := int64(0); i < 5; i++ {
		points = append(points, types.CandlePoint{
			T: base + i*minute,
			O: i + 1, H: 10, L: 1, C: i + 1, V: 100,
		})
	}

	buckets := Resample(points, 5*time.Minute)
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	b := buckets[0]
	if b.O != 1 || b.H != 10 || b.L != 1 || b.C != 5 || b.V != 500 {
		t.Errorf("bucket = %+v, want o=1 h=10 l=1 c=5 v=500", b)
	}
}

func TestResampleOrdersBuckets(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, KST).UnixMilli()
	minute := int64(60_000)

	// Out-of-order input spanning two buckets.
	points := []types.CandlePoint{
		{T: base + 6*minute, O: 7, H: 7, L: 7, C: 7, V: 1},
		{T: base, O: 1, H: 1, L: 1, C: 1, V: 1},
	}

	buckets := Resample(points, 5*time.Minute)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].T >= buckets[1].T {
		t.Error("buckets must be ascending by timestamp")
	}
}

func TestTransformSeriesTimeDropsIncompleteRows(t *testing.T) {
	rows := []map[string]any{
		{
			"stck_bsop_date": "20240102", "stck_cntg_hour": "090100",
			"stck_oprc": "100", "stck_hgpr": "110", "stck_lwpr": "90",
			"stck_prpr": "105", "cntg_vol": "10",
		},
		{
			// Missing close: dropped.
			"stck_bsop_date": "20240102", "stck_cntg_hour": "090200",
			"stck_oprc": "100", "stck_hgpr": "110", "stck_lwpr": "90",
		},
	}

	series := TransformSeriesTime(rows, "005930", "1d", 5*time.Minute)
	if len(series.Points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(series.Points))
	}
	if series.Timezone != "Asia/Seoul" || series.Currency != "KRW" {
		t.Errorf("unexpected series envelope: %+v", series)
	}
	if series.Meta.Interval != "5m" {
		t.Errorf("interval = %q, want 5m", series.Meta.Interval)
	}
}

func TestTransformSeriesDaily(t *testing.T) {
	data := map[string]any{
		"output2": []any{
			map[string]any{
				"stck_bsop_date": "20240103",
				"stck_oprc":      "71000", "stck_hgpr": "72000",
				"stck_lwpr": "70500", "stck_clpr": "71500",
				"acml_vol": "1000",
			},
			map[string]any{
				"stck_bsop_date": "20240102",
				"stck_oprc":      "70000", "stck_hgpr": "71000",
				"stck_lwpr": "69500", "stck_clpr": "70500",
				"acml_vol": "2000",
			},
		},
	}

	series := TransformSeriesDaily(data, "005930", "1w")
	if len(series.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(series.Points))
	}
	if series.Points[0].T >= series.Points[1].T {
		t.Error("daily points must be sorted ascending")
	}
	if series.Points[1].C != 71500 {
		t.Errorf("latest close = %d, want 71500", series.Points[1].C)
	}
	if series.Meta.Interval != "1d" {
		t.Errorf("interval = %q", series.Meta.Interval)
	}
}
