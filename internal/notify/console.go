package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"signal_bot/internal/models"
)

// Console печатает алерты в stdout и пишет их в лог. Всегда доступен.
type Console struct {
	id  string
	log *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

func NewConsole(id string, log *zap.Logger, out io.Writer) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Console{id: id, log: log.Named("console"), out: out}
}

func (c *Console) ID() string { return c.id }

func (c *Console) Send(ctx context.Context, a models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sep := strings.Repeat("=", 50)

	c.mu.Lock()
	_, err := fmt.Fprintf(c.out, "%s\n%s\n%s\n%s\n", sep, Title(a), Body(a), sep)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.log.Info("alert",
		zap.Int64("id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.String("symbol", a.Symbol),
		zap.String("strategy", a.Strategy),
		zap.String("side", string(a.Side)),
		zap.Float64("price", a.Price),
		zap.Strings("conditions", a.Conditions),
	)
	return nil
}

func (c *Console) TestConnection(context.Context) bool { return true }
