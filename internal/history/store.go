package history

import (
	"context"
	"errors"

	"signal_bot/internal/models"
)

var (
	ErrNotFound  = errors.New("history: record not found")
	ErrDuplicate = errors.New("history: alert already recorded")
)

// Store — журнал алертов и попыток доставки. Только добавление: исправления
// пишутся новыми записями. Запись подтверждается после того, как она
// сохранена.
type Store interface {
	AppendAlert(ctx context.Context, a models.Alert) error
	AppendAttempt(ctx context.Context, at models.DeliveryAttempt) error

	// Query — записи по фильтру в порядке id. При Limit>0 — последние Limit.
	Query(ctx context.Context, f models.Filter) ([]models.HistoryRecord, error)
	Get(ctx context.Context, id int64) (models.HistoryRecord, error)
	Counts(ctx context.Context, f models.Filter) (map[models.AlertKind]int, error)
	LastAlertID(ctx context.Context) (int64, error)
}
