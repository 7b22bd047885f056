package models

import (
	"fmt"
	"strings"
	"time"
)

type AlertKind string

const (
	AlertTrade        AlertKind = "TRADE"
	AlertSignal       AlertKind = "SIGNAL"
	AlertError        AlertKind = "ERROR"
	AlertMarketUpdate AlertKind = "MARKET_UPDATE"
	AlertCustom       AlertKind = "CUSTOM"
)

func ParseAlertKind(s string) (AlertKind, error) {
	switch k := AlertKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case AlertTrade, AlertSignal, AlertError, AlertMarketUpdate, AlertCustom:
		return k, nil
	}
	return "", fmt.Errorf("unknown alert kind %q", s)
}

// Priority — пятиуровневая шкала, совпадает с диапазоном pushover (-2..2).
type Priority int

const (
	PriorityLowest    Priority = -2
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lowest":
		return PriorityLowest, nil
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "emergency":
		return PriorityEmergency, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityEmergency:
		return "emergency"
	}
	return "normal"
}

// Alert — единица доставки. После создания не меняется.
type Alert struct {
	ID         int64     `json:"id"`
	Kind       AlertKind `json:"kind"`
	Symbol     string    `json:"symbol,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Side       Side      `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Size       *float64  `json:"size,omitempty"`
	Strength   float64   `json:"strength,omitempty"`
	Priority   Priority  `json:"priority"`
	Conditions []string  `json:"conditions,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// CUSTOM / ERROR
	Title     string `json:"title,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Context   string `json:"context,omitempty"`

	// MARKET_UPDATE
	Change    float64 `json:"change,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
}

func (a Alert) Clone() Alert {
	a.Conditions = append([]string(nil), a.Conditions...)
	if a.Size != nil {
		sz := *a.Size
		a.Size = &sz
	}
	return a
}

func NewTradeAlert(side Side, symbol string, price float64, size *float64) Alert {
	return Alert{Kind: AlertTrade, Side: side, Symbol: symbol, Price: price, Size: size, Priority: PriorityHigh}
}

func NewErrorAlert(errType, message, context string) Alert {
	return Alert{
		Kind:      AlertError,
		Title:     errType,
		ErrorType: errType,
		Message:   message,
		Context:   context,
		Priority:  PriorityHigh,
	}
}

func NewMarketUpdate(symbol string, price, change, changePct, volume float64) Alert {
	return Alert{
		Kind:      AlertMarketUpdate,
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    volume,
		Priority:  PriorityLow,
	}
}

func NewCustomAlert(title, message string) Alert {
	if title == "" {
		title = "Trading Alert"
	}
	return Alert{Kind: AlertCustom, Title: title, Message: message, Priority: PriorityNormal}
}

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeTimeout Outcome = "TIMEOUT"
)

// DeliveryAttempt — одна попытка доставки алерта в канал. Terminal=true ровно
// у одной записи на пару алерт/канал.
type DeliveryAttempt struct {
	AlertID     int64     `json:"alert_id"`
	Channel     string    `json:"channel"`
	Attempt     int       `json:"attempt"`
	Outcome     Outcome   `json:"outcome"`
	Terminal    bool      `json:"terminal"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}
