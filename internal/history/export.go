package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"signal_bot/internal/models"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Document — формат json-выгрузки.
type Document struct {
	ExportedAt time.Time              `json:"exported_at"`
	Filter     models.Filter          `json:"filter"`
	Records    []models.HistoryRecord `json:"records"`
}

var csvHeader = []string{
	"alert_id", "kind", "symbol", "strategy", "side", "price", "priority", "created_at",
	"conditions", "channel", "attempt", "outcome", "terminal", "error", "attempted_at",
}

// Export пишет все записи по фильтру в w.
func Export(ctx context.Context, s Store, f models.Filter, format Format, w io.Writer) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("history.Export: %w", err)
		}
	}()

	records, err := s.Query(ctx, f)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON, "":
		if records == nil {
			records = []models.HistoryRecord{}
		}
		data, err := sonic.ConfigStd.MarshalIndent(Document{
			ExportedAt: time.Now().UTC(),
			Filter:     f,
			Records:    records,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err

	case FormatCSV:
		return writeCSV(w, records)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// writeCSV — строка на попытку; алерт без попыток даёт одну строку с пустыми
// колонками попытки.
func writeCSV(w io.Writer, records []models.HistoryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		a := r.Alert
		head := []string{
			strconv.FormatInt(a.ID, 10),
			string(a.Kind),
			a.Symbol,
			a.Strategy,
			string(a.Side),
			strconv.FormatFloat(a.Price, 'f', -1, 64),
			a.Priority.String(),
			a.CreatedAt.UTC().Format(time.RFC3339Nano),
			strings.Join(a.Conditions, "; "),
		}
		if len(r.Attempts) == 0 {
			if err := cw.Write(append(head, "", "", "", "", "", "")); err != nil {
				return err
			}
			continue
		}
		for _, at := range r.Attempts {
			row := append(append([]string(nil), head...),
				at.Channel,
				strconv.Itoa(at.Attempt),
				string(at.Outcome),
				strconv.FormatBool(at.Terminal),
				at.Error,
				at.AttemptedAt.UTC().Format(time.RFC3339Nano),
			)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
