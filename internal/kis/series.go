package kis

import (
	"context"
	"net/http"
	"net/url"
)

// KIS quotation endpoints and their transaction ids.
const (
	pathInquirePrice      = "/uapi/domestic-stock/v1/quotations/inquire-price"
	pathTimeChart         = "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice"
	pathDailyChart        = "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"
	pathOvertimeByTime    = "/uapi/domestic-stock/v1/quotations/inquire-time-overtimeconclusion"
	pathOvertimeDaily     = "/uapi/domestic-stock/v1/quotations/inquire-daily-overtimeprice"
	pathOvertimeQuote     = "/uapi/domestic-stock/v1/quotations/inquire-overtime-price"
	trIDInquirePrice      = "FHKST01010100"
	trIDTimeChart         = "FHKST03010200"
	trIDDailyChart        = "FHKST03010100"
	trIDOvertimeByTime    = "FHPST02310000"
	trIDOvertimeDaily     = "FHPST02320000"
	trIDOvertimeQuote     = "FHPST02300000"
	marketDivisionDomestic = "J"
)

// Overview fetches the current-price snapshot payload for one code.
func (c *Client) Overview(ctx context.Context, code string) (map[string]any, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionDomestic)
	params.Set("FID_INPUT_ISCD", code)

	data, err := c.Request(ctx, http.MethodGet, pathInquirePrice, trIDInquirePrice, params, nil)
	if err != nil {
		return nil, err
	}
	if err := EnsureOK(data); err != nil {
		return nil, err
	}
	return data, nil
}

// MinutePage fetches one page (~30 rows) of today's minute candles ending
// at the HHMMSS cursor.
func (c *Client) MinutePage(ctx context.Context, code, cursor string) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionDomestic)
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_INPUT_HOUR_1", cursor)
	params.Set("FID_PW_DATA_INCU_YN", "Y")
	params.Set("FID_ETC_CLS_CODE", "")

	data, err := c.Request(ctx, http.MethodGet, pathTimeChart, trIDTimeChart, params, nil)
	if err != nil {
		return nil, err
	}
	if err := EnsureOK(data); err != nil {
		return nil, err
	}
	return outputRows(data, "output2"), nil
}

// DailyChart fetches daily candles between from and to (YYYYMMDD).
func (c *Client) DailyChart(ctx context.Context, code, from, to string) (map[string]any, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionDomestic)
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_INPUT_DATE_1", from)
	params.Set("FID_INPUT_DATE_2", to)
	params.Set("FID_PERIOD_DIV_CODE", "D")
	params.Set("FID_ORG_ADJ_PRC", "0")

	data, err := c.Request(ctx, http.MethodGet, pathDailyChart, trIDDailyChart, params, nil)
	if err != nil {
		return nil, err
	}
	if err := EnsureOK(data); err != nil {
		return nil, err
	}
	return data, nil
}

// OvertimeMinutePage fetches one page of after-hours trades ending at the
// HHMMSS cursor.
func (c *Client) OvertimeMinutePage(ctx context.Context, code, cursor string) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionDomestic)
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_INPUT_HOUR_1", cursor)

	data, err := c.Request(ctx, http.MethodGet, pathOvertimeByTime, trIDOvertimeByTime, params, nil)
	if err != nil {
		return nil, err
	}
	if err := EnsureOK(data); err != nil {
		return nil, err
	}
	return outputRows(data, "output2"), nil
}

// OvertimeDailyAnchor fetches today's after-hours daily summary row.
func (c *Client) OvertimeDailyAnchor(ctx context.Context, code string) (map[string]any, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionDomestic)
	params.Set("FID_INPUT_ISCD", code)

	data, err := c.Request(ctx, http.MethodGet, pathOvertimeDaily, trIDOvertimeDaily, params, nil)
	if err != nil {
		return nil, err
	}
	if err := EnsureOK(data); err != nil {
		return nil, err
	}
	rows := outputRows(data, "output2")
	if len(rows) == 0 {
		if out, ok := data["output"].(map[string]any); ok {
			return out, nil
		}
		return nil, nil
	}
	return rows[0], nil
}

// OvertimeQuote fetches the single current after-hours price point.
func (c *Client) OvertimeQuote(ctx context.Context, code string) (map[string]any, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionDomestic)
	params.Set("FID_INPUT_ISCD", code)

	data, err := c.Request(ctx, http.MethodGet, pathOvertimeQuote, trIDOvertimeQuote, params, nil)
	if err != nil {
		return nil, err
	}
	if err := EnsureOK(data); err != nil {
		return nil, err
	}
	out, _ := data["output"].(map[string]any)
	return out, nil
}
