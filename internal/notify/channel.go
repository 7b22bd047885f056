package notify

import (
	"context"
	"errors"
	"fmt"

	"signal_bot/internal/models"
)

var (
	ErrPermanent        = errors.New("permanent delivery failure")
	ErrQueueOverflow    = errors.New("queue overflow")
	ErrDispatcherClosed = errors.New("dispatcher stopped")
	ErrUnknownChannel   = errors.New("unknown channel")
)

// Channel — внешний получатель алертов. Send должен уважать ctx: по нему
// отсчитывается таймаут попытки.
type Channel interface {
	ID() string
	Send(ctx context.Context, a models.Alert) error
	TestConnection(ctx context.Context) bool
}

// Permanent помечает ошибку как неповторяемую (битые креды, кривой payload).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return fmt.Sprintf("%v: %v", ErrPermanent, e.err) }
func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }
