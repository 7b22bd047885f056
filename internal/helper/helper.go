package helper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormTF приводит запись таймфрейма к виду "1m", "1h", "1d".
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "1440m", "24h", "1d":
		return "1d"
	default:
		return s
	}
}

// TimeframeToDuration понимает m/h/d/w суффиксы: "15m", "4h", "1d", "1w".
func TimeframeToDuration(tf string) (time.Duration, error) {
	s := NormTF(tf)
	if len(s) < 2 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// OKXBar — обозначение таймфрейма в каналах candle* у OKX.
func OKXBar(tf string) string {
	s := NormTF(tf)
	if strings.HasSuffix(s, "h") || strings.HasSuffix(s, "d") || strings.HasSuffix(s, "w") {
		return strings.ToUpper(s)
	}
	return s
}
