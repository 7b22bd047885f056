package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
)

const (
	DefaultWSURL        = "wss://ws.okx.com:8443/ws/v5/business"
	defaultPingInterval = 20 * time.Second
)

type WSConfig struct {
	URL            string
	Symbol         string
	Timeframe      string // "1h", "1d", ...
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// WS — фид закрытых свечей OKX по одному инструменту и таймфрейму.
// Соединение поднимается при первом NextBar и переподключается само;
// пока связи нет, NextBar просто ждёт.
type WS struct {
	cfg    WSConfig
	log    *zap.Logger
	dialer *websocket.Dialer
	period time.Duration

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	out    chan models.Bar
}

func NewWS(cfg WSConfig, log *zap.Logger) (*WS, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultWSURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("ws feed: empty symbol")
	}
	period, err := helper.TimeframeToDuration(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("ws feed: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WS{
		cfg:    cfg,
		log:    log.With(zap.String("symbol", cfg.Symbol), zap.String("tf", helper.NormTF(cfg.Timeframe))),
		dialer: websocket.DefaultDialer,
		period: period,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan models.Bar),
	}, nil
}

func (w *WS) NextBar(ctx context.Context) (models.Bar, error) {
	w.once.Do(func() { go w.loop() })
	select {
	case <-ctx.Done():
		return models.Bar{}, ctx.Err()
	case <-w.ctx.Done():
		return models.Bar{}, w.ctx.Err()
	case b := <-w.out:
		return b, nil
	}
}

func (w *WS) Close() error {
	w.cancel()
	return nil
}

func (w *WS) loop() {
	channel := "candle" + helper.OKXBar(w.cfg.Timeframe)
	sub := map[string]any{
		"op":   "subscribe",
		"args": []map[string]string{{"channel": channel, "instId": w.cfg.Symbol}},
	}

	for {
		if w.ctx.Err() != nil {
			return
		}
		w.log.Info("ws connect", zap.String("channel", channel))
		if err := w.session(channel, sub); err != nil {
			w.log.Warn("ws session ended", zap.Error(err))
		}
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *WS) session(channel string, sub map[string]any) error {
	conn, _, err := w.dialer.DialContext(w.ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// keepalive, иначе OKX рвёт соединение с 4004
	var writeMu sync.Mutex
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(w.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-w.ctx.Done():
				writeMu.Lock()
				_ = conn.Close()
				writeMu.Unlock()
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		bars, err := w.decode(channel, msg)
		if err != nil {
			w.log.Debug("ws frame skipped", zap.Error(err))
			continue
		}
		for _, b := range bars {
			select {
			case w.out <- b:
			case <-w.ctx.Done():
				return w.ctx.Err()
			}
		}
	}
}

type candleFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// decode разбирает кадр candle*. Формат строки data:
// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]; берём только confirm=1.
func (w *WS) decode(channel string, msg []byte) ([]models.Bar, error) {
	if string(msg) == "pong" {
		return nil, nil
	}
	var frame candleFrame
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return nil, err
	}
	if frame.Arg.Channel != channel || frame.Arg.InstID != w.cfg.Symbol || len(frame.Data) == 0 {
		return nil, nil
	}

	tf := helper.NormTF(w.cfg.Timeframe)
	bars := make([]models.Bar, 0, len(frame.Data))
	for _, row := range frame.Data {
		if b, ok := parseCandle(row, tf, w.period); ok {
			bars = append(bars, b)
		}
	}
	return bars, nil
}
