package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"signal_bot/internal/history"
	"signal_bot/internal/history/pg"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/postgres"
	"signal_bot/internal/notify"
)

const dateLayout = "2006-01-02"

func openStore(ctx context.Context, cmd *cli.Command) (history.Store, func(), error) {
	dsn := cmd.String("dsn")
	if dsn == "" {
		return nil, nil, errors.New("dsn is required (--dsn or DATABASE_DSN)")
	}
	tx, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect")
	}
	return pg.New(tx), tx.Close, nil
}

func filterFrom(cmd *cli.Command) (models.Filter, error) {
	f := models.Filter{
		Symbol:   cmd.String("symbol"),
		Strategy: cmd.String("strategy"),
		From:     cmd.Timestamp("from"),
		To:       cmd.Timestamp("to"),
		Limit:    int(cmd.Int("limit")),
	}
	if k := cmd.String("kind"); k != "" {
		kind, err := models.ParseAlertKind(k)
		if err != nil {
			return f, err
		}
		f.Kind = kind
	}
	return f, nil
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	f, err := filterFrom(cmd)
	if err != nil {
		return err
	}
	format, err := history.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	var w io.Writer = os.Stdout
	if out := cmd.String("out"); out != "" {
		file, err := os.Create(out)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer file.Close()
		w = file
	}
	return history.Export(ctx, store, f, format, w)
}

func countsAction(ctx context.Context, cmd *cli.Command) error {
	f, err := filterFrom(cmd)
	if err != nil {
		return err
	}
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	counts, err := store.Counts(ctx, f)
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("%-14s %d\n", k, counts[models.AlertKind(k)])
	}
	return nil
}

func showAction(ctx context.Context, cmd *cli.Command) error {
	id, err := strconv.ParseInt(cmd.Args().First(), 10, 64)
	if err != nil {
		return errors.Wrap(err, "alert id")
	}
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("#%d %s\n%s\n", rec.Alert.ID, notify.Title(rec.Alert), notify.Body(rec.Alert))
	for _, at := range rec.Attempts {
		fmt.Printf("  %s attempt=%d %s terminal=%t %s %s\n", at.Channel, at.Attempt, at.Outcome, at.Terminal,
			at.AttemptedAt.Format("2006-01-02 15:04:05"), at.Error)
	}
	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.String("dsn") == "" {
		return errors.New("dsn is required (--dsn or DATABASE_DSN)")
	}
	tx, err := postgres.Connect(ctx, cmd.String("dsn"))
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer tx.Close()
	return pg.New(tx).Migrate(ctx)
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "TRADE, SIGNAL, ERROR, MARKET_UPDATE or CUSTOM"},
		&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}},
		&cli.StringFlag{Name: "strategy"},
		&cli.TimestampFlag{
			Name:   "from",
			Usage:  "inclusive, `YYYY-MM-DD`",
			Config: cli.TimestampConfig{Layouts: []string{dateLayout}},
		},
		&cli.TimestampFlag{
			Name:   "to",
			Usage:  "exclusive, `YYYY-MM-DD`",
			Config: cli.TimestampConfig{Layouts: []string{dateLayout}},
		},
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "0 = no limit"},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "history",
		Usage: "Query and export the alert history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "postgres DSN",
				Sources: cli.EnvVars("DATABASE_DSN"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Export alerts with their delivery attempts",
				Flags: append(filterFlags(),
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json or csv"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, stdout by default"},
				),
				Action: exportAction,
			},
			{
				Name:   "counts",
				Usage:  "Count alerts per kind",
				Flags:  filterFlags(),
				Action: countsAction,
			},
			{
				Name:      "show",
				Usage:     "Show one alert and its attempts",
				ArgsUsage: "<alert-id>",
				Action:    showAction,
			},
			{
				Name:   "migrate",
				Usage:  "Create the history schema",
				Action: migrateAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
