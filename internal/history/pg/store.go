package pg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"signal_bot/internal/history"
	"signal_bot/internal/models"
	"signal_bot/pkg/db"
)

//go:embed schema.sql
var schema string

const foreignKeyViolation = "23503"

// Store — журнал в PostgreSQL. Каждая запись — отдельная транзакция,
// подтверждение после коммита.
type Store struct {
	db db.TxManager
}

var _ history.Store = (*Store)(nil)

func New(tm db.TxManager) *Store {
	return &Store{db: tm}
}

// Migrate создаёт таблицы, если их нет.
func (s *Store) Migrate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Migrate: %w", err)
		}
	}()
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, schema)
		return err
	})
}

func (s *Store) AppendAlert(ctx context.Context, a models.Alert) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.AppendAlert: %w", err)
		}
	}()

	payload, err := sonic.Marshal(a)
	if err != nil {
		return err
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctxTx, `
			INSERT INTO alerts (id, kind, symbol, strategy, created_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, string(a.Kind), a.Symbol, a.Strategy, a.CreatedAt.UTC(), payload,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: id %d", history.ErrDuplicate, a.ID)
		}
		return nil
	})
}

func (s *Store) AppendAttempt(ctx context.Context, at models.DeliveryAttempt) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.AppendAttempt: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO delivery_attempts (alert_id, channel, attempt, outcome, terminal, error, attempted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			at.AlertID, at.Channel, at.Attempt, string(at.Outcome), at.Terminal, at.Error, at.AttemptedAt.UTC(),
		)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: alert %d", history.ErrNotFound, at.AlertID)
	}
	return err
}

func (s *Store) Query(ctx context.Context, f models.Filter) (out []models.HistoryRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Query: %w", err)
		}
	}()

	err = s.db.RunReadOnly(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		sql, args := selectAlerts(f)
		out, err = s.load(ctxTx, tx, sql, args)
		return err
	})
	return out, err
}

func (s *Store) Get(ctx context.Context, id int64) (rec models.HistoryRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Get: %w", err)
		}
	}()

	err = s.db.RunReadOnly(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		recs, err := s.load(ctxTx, tx, `SELECT id, payload FROM alerts WHERE id = $1`, []any{id})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return fmt.Errorf("%w: alert %d", history.ErrNotFound, id)
		}
		rec = recs[0]
		return nil
	})
	return rec, err
}

func (s *Store) Counts(ctx context.Context, f models.Filter) (counts map[models.AlertKind]int, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Counts: %w", err)
		}
	}()

	counts = map[models.AlertKind]int{}
	err = s.db.RunReadOnly(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		where, args := whereClause(f)
		rows, err := tx.Query(ctxTx, `SELECT kind, count(*) FROM alerts`+where+` GROUP BY kind`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				kind string
				n    int
			)
			if err := rows.Scan(&kind, &n); err != nil {
				return err
			}
			counts[models.AlertKind(kind)] = n
		}
		return rows.Err()
	})
	return counts, err
}

func (s *Store) LastAlertID(ctx context.Context) (id int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.LastAlertID: %w", err)
		}
	}()

	err = s.db.RunReadOnly(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		return tx.QueryRow(ctxTx, `SELECT COALESCE(MAX(id), 0) FROM alerts`).Scan(&id)
	})
	return id, err
}

// load читает алерты запросом sql (колонки id, payload) и добирает их попытки.
func (s *Store) load(ctx context.Context, tx db.Transaction, sql string, args []any) ([]models.HistoryRecord, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	var (
		out   []models.HistoryRecord
		ids   []int64
		index = map[int64]int{}
	)
	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		var a models.Alert
		if err := sonic.Unmarshal(payload, &a); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode alert %d: %w", id, err)
		}
		index[id] = len(out)
		ids = append(ids, id)
		out = append(out, models.HistoryRecord{Alert: a})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	arows, err := tx.Query(ctx, `
		SELECT alert_id, channel, attempt, outcome, terminal, error, attempted_at
		FROM delivery_attempts
		WHERE alert_id = ANY($1)
		ORDER BY alert_id, seq`, ids)
	if err != nil {
		return nil, err
	}
	attempts, err := pgx.CollectRows(arows, func(row pgx.CollectableRow) (models.DeliveryAttempt, error) {
		var (
			at      models.DeliveryAttempt
			outcome string
		)
		err := row.Scan(&at.AlertID, &at.Channel, &at.Attempt, &outcome, &at.Terminal, &at.Error, &at.AttemptedAt)
		at.Outcome = models.Outcome(outcome)
		at.AttemptedAt = at.AttemptedAt.UTC()
		return at, err
	})
	if err != nil {
		return nil, err
	}
	for _, at := range attempts {
		i := index[at.AlertID]
		out[i].Attempts = append(out[i].Attempts, at)
	}
	return out, nil
}

// selectAlerts — выборка по фильтру в порядке id; при Limit берутся последние.
func selectAlerts(f models.Filter) (string, []any) {
	where, args := whereClause(f)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		return fmt.Sprintf(`SELECT id, payload FROM (SELECT id, payload FROM alerts%s ORDER BY id DESC LIMIT $%d) t ORDER BY id`,
			where, len(args)), args
	}
	return `SELECT id, payload FROM alerts` + where + ` ORDER BY id`, args
}

func whereClause(f models.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Strategy != "" {
		add("strategy = $%d", f.Strategy)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
