package kis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/metrics"
	"kis-quote-gateway/internal/types"
)

const (
	// trIDRealtimePrice selects the domestic real-time trade feed.
	trIDRealtimePrice = "H0UNCNT0"
	trIDPingPong      = "PINGPONG"

	approvalKeyValidity = 24 * time.Hour
	wsDialTimeout       = 10 * time.Second
	maxStreamBackoff    = 20 * time.Second
)

// h0uncnt0Columns is the fixed caret-delimited payload schema of the
// real-time trade feed.
var h0uncnt0Columns = []string{
	"MKSC_SHRN_ISCD",
	"STCK_CNTG_HOUR",
	"STCK_PRPR",
	"PRDY_VRSS_SIGN",
	"PRDY_VRSS",
	"PRDY_CTRT",
	"WGHN_AVRG_STCK_PRC",
	"STCK_OPRC",
	"STCK_HGPR",
	"STCK_LWPR",
	"ASKP1",
	"BIDP1",
	"CNTG_VOL",
	"ACML_VOL",
	"ACML_TR_PBMN",
	"SELN_CNTG_CSNU",
	"SHNU_CNTG_CSNU",
	"NTBY_CNTG_CSNU",
	"CTTR",
	"SELN_CNTG_SMTN",
	"SHNU_CNTG_SMTN",
	"CNTG_CLS_CODE",
	"SHNU_RATE",
	"PRDY_VOL_VRSS_ACML_VOL_RATE",
	"OPRC_HOUR",
	"OPRC_VRSS_PRPR_SIGN",
	"OPRC_VRSS_PRPR",
	"HGPR_HOUR",
	"HGPR_VRSS_PRPR_SIGN",
	"HGPR_VRSS_PRPR",
	"LWPR_HOUR",
	"LWPR_VRSS_PRPR_SIGN",
	"LWPR_VRSS_PRPR",
	"BSOP_DATE",
	"NEW_MKOP_CLS_CODE",
	"TRHT_YN",
	"ASKP_RSQN1",
	"BIDP_RSQN1",
	"TOTAL_ASKP_RSQN",
	"TOTAL_BIDP_RSQN",
	"VOL_TNRT",
	"PRDY_SMNS_HOUR_ACML_VOL",
	"PRDY_SMNS_HOUR_ACML_VOL_RATE",
	"HOUR_CLS_CODE",
	"MRKT_TRTM_CLS_CODE",
	"VI_STND_PRC",
}

// subscribeMessage is the KIS subscription envelope.
type subscribeMessage struct {
	Header struct {
		ContentType string `json:"content-type"`
		ApprovalKey string `json:"approval_key"`
		TrType      string `json:"tr_type"`
		CustType    string `json:"custtype"`
	} `json:"header"`
	Body struct {
		Input struct {
			TrID  string `json:"tr_id"`
			TrKey string `json:"tr_key"`
		} `json:"input"`
	} `json:"body"`
}

// controlFrame is the JSON system frame shape (ping/pong, subscribe acks).
type controlFrame struct {
	Header struct {
		TrID string `json:"tr_id"`
	} `json:"header"`
}

// StreamClient maintains a reconnecting subscription to the KIS
// real-time price feed and forwards decoded ticks to a channel.
type StreamClient struct {
	wsURL    string
	rest     *Client
	approval *credentialCache

	sleep func(context.Context, time.Duration) error
}

func NewStreamClient(rest *Client, wsBaseURL, wsPath string) *StreamClient {
	sc := &StreamClient{
		wsURL: strings.TrimRight(wsBaseURL, "/") + wsPath,
		rest:  rest,
		sleep: sleepCtx,
	}
	sc.approval = newCredentialCache(sc.issueApprovalKey)
	return sc
}

// issueApprovalKey obtains the streaming credential, distinct from the
// REST bearer token. KIS names the secret field differently here.
func (sc *StreamClient) issueApprovalKey(ctx context.Context) (string, time.Duration, error) {
	if sc.rest.cfg.AppKey == "" || sc.rest.cfg.AppSecret == "" {
		return "", 0, &ConfigError{Message: "app key/secret not configured"}
	}

	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     sc.rest.cfg.AppKey,
		"secretkey":  sc.rest.cfg.AppSecret,
	}
	data, err := sc.rest.postJSON(ctx, "/oauth2/Approval", payload)
	if err != nil {
		return "", 0, err
	}

	key, _ := data["approval_key"].(string)
	if key == "" {
		return "", 0, newAPIError(http.StatusBadGateway, "approval response missing approval_key")
	}

	logger.Info(ctx, "KIS WS approval key issued")
	return key, approvalKeyValidity, nil
}

// Stream subscribes to the real-time feed for code and pushes decoded
// ticks to out until ctx is cancelled. Upstream failures invalidate the
// approval key (expiry is indistinguishable from other errors) and
// reconnect after an increasing backoff; the attempt counter resets on
// each successful subscribe. Returns nil on cancellation, or the error
// when credentials are unusable.
func (sc *StreamClient) Stream(ctx context.Context, code string, out chan<- types.Tick) error {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := sc.runOnce(ctx, code, out, &attempt)
		if ctx.Err() != nil {
			return nil
		}
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}

		attempt++
		metrics.StreamReconnects.Inc()
		backoff := streamBackoff(attempt)
		logger.Warn(ctx, "KIS WS stream error, reconnecting",
			"code", code, "attempt", attempt, "backoff", backoff, "error", err)
		sc.approval.invalidate()
		if err := sc.sleep(ctx, backoff); err != nil {
			return nil
		}
	}
}

// runOnce performs one connect/subscribe/read cycle. It returns when the
// connection fails or ctx is cancelled.
func (sc *StreamClient) runOnce(ctx context.Context, code string, out chan<- types.Tick, attempt *int) error {
	key, err := sc.approval.get(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, _, err := dialer.DialContext(ctx, sc.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop promptly when the consumer goes away.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	msg := subscribeMessage{}
	msg.Header.ContentType = "utf-8"
	msg.Header.ApprovalKey = key
	msg.Header.TrType = "1"
	msg.Header.CustType = "P"
	msg.Body.Input.TrID = trIDRealtimePrice
	msg.Body.Input.TrKey = code

	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	logger.Info(ctx, "KIS WS subscribed", "code", code)
	*attempt = 0

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		text := string(raw)
		if strings.HasPrefix(text, "0") || strings.HasPrefix(text, "1") {
			tick, ok := decodeTick(text)
			if !ok {
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Header.TrID == trIDPingPong {
			deadline := time.Now().Add(wsDialTimeout)
			if err := conn.WriteControl(websocket.PongMessage, raw, deadline); err != nil {
				return err
			}
		}
	}
}

// decodeTick parses a pipe-delimited data frame whose 4th segment is the
// caret-delimited H0UNCNT0 payload.
func decodeTick(raw string) (types.Tick, bool) {
	parts := strings.Split(raw, "|")
	if len(parts) < 4 {
		return types.Tick{}, false
	}
	values := strings.Split(parts[3], "^")
	if len(values) < len(h0uncnt0Columns) {
		return types.Tick{}, false
	}

	row := make(map[string]string, len(h0uncnt0Columns))
	for i, col := range h0uncnt0Columns {
		row[col] = values[i]
	}

	tick := types.Tick{
		Code: row["MKSC_SHRN_ISCD"],
		Time: row["STCK_CNTG_HOUR"],
	}
	tick.Price, _ = parseInt(row["STCK_PRPR"])
	tick.Open, _ = parseInt(row["STCK_OPRC"])
	tick.High, _ = parseInt(row["STCK_HGPR"])
	tick.Low, _ = parseInt(row["STCK_LWPR"])
	tick.Volume, _ = parseInt(row["ACML_VOL"])
	tick.TradingValue, _ = parseInt(row["ACML_TR_PBMN"])
	tick.Change, _ = applySign(row["PRDY_VRSS"], row["PRDY_VRSS_SIGN"])
	tick.ChangeRate, _ = applySign(row["PRDY_CTRT"], row["PRDY_VRSS_SIGN"])
	return tick, true
}

// streamBackoff grows linearly from 6s and saturates at 20s.
func streamBackoff(attempt int) time.Duration {
	secs := 5 + attempt
	if secs > 20 {
		secs = 20
	}
	return time.Duration(secs) * time.Second
}
