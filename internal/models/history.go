package models

import "time"

// HistoryRecord — алерт вместе со всеми попытками доставки.
type HistoryRecord struct {
	Alert    Alert             `json:"alert"`
	Attempts []DeliveryAttempt `json:"attempts"`
}

// Terminal — итоговая попытка по каналу, если она уже есть.
func (r HistoryRecord) Terminal(channel string) (DeliveryAttempt, bool) {
	for _, a := range r.Attempts {
		if a.Channel == channel && a.Terminal {
			return a, true
		}
	}
	return DeliveryAttempt{}, false
}

// Filter — выборка истории. Пустые поля не фильтруют.
type Filter struct {
	Kind     AlertKind `json:"kind,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	From     time.Time `json:"from,omitempty"` // включительно
	To       time.Time `json:"to,omitempty"`   // исключительно
	Limit    int       `json:"limit,omitempty"`
}

func (f Filter) Match(a Alert) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Symbol != "" && a.Symbol != f.Symbol {
		return false
	}
	if f.Strategy != "" && a.Strategy != f.Strategy {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
