package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
)

const (
	DefaultRESTURL = "https://www.okx.com"
	maxHistory     = 300
)

// History — закрытые свечи OKX через REST, для прогрева индикаторов.
type History struct {
	BaseURL string
	Client  *http.Client
}

// Candles — последние limit закрытых свечей, от старых к новым.
func (h History) Candles(ctx context.Context, symbol, tf string, limit int) (bars []models.Bar, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("okx.Candles %s %s: %w", symbol, tf, err)
		}
	}()

	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	period, err := helper.TimeframeToDuration(tf)
	if err != nil {
		return nil, err
	}
	base := h.BaseURL
	if base == "" {
		base = DefaultRESTURL
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	q := url.Values{
		"instId": {symbol},
		"bar":    {helper.OKXBar(tf)},
		"limit":  {strconv.Itoa(limit)},
	}
	u := strings.TrimRight(base, "/") + "/api/v5/market/candles?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := sonic.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	if r.Code != "0" {
		return nil, fmt.Errorf("code=%s msg=%s", r.Code, r.Msg)
	}

	// OKX отдаёт от новых к старым
	id := helper.NormTF(tf)
	bars = make([]models.Bar, 0, len(r.Data))
	for i := len(r.Data) - 1; i >= 0; i-- {
		if b, ok := parseCandle(r.Data[i], id, period); ok {
			bars = append(bars, b)
		}
	}
	return bars, nil
}

// parseCandle разбирает строку свечи OKX:
// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]. Незакрытые свечи
// (confirm != 1) пропускаются.
func parseCandle(row []string, tf string, period time.Duration) (models.Bar, bool) {
	if len(row) < 5 || (len(row) >= 9 && row[8] != "1") {
		return models.Bar{}, false
	}
	tsMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Bar{}, false
	}
	open, err1 := strconv.ParseFloat(row[1], 64)
	high, err2 := strconv.ParseFloat(row[2], 64)
	low, err3 := strconv.ParseFloat(row[3], 64)
	closep, err4 := strconv.ParseFloat(row[4], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || closep <= 0 {
		return models.Bar{}, false
	}
	var vol float64
	if len(row) >= 6 {
		vol, _ = strconv.ParseFloat(row[5], 64)
	}
	return models.Bar{
		Timeframe: tf,
		Time:      time.UnixMilli(tsMs).UTC().Add(period), // OKX шлёт время открытия
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closep,
		Volume:    vol,
	}, true
}
