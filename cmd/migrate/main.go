// Команда migrate применяет и откатывает миграции схемы хранилища записи.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

type direction string

const (
	directionUp     direction = "up"
	directionDown   direction = "down"
	directionStatus direction = "status"
)

type options struct {
	direction direction
	steps     int
	dsn       string
}

var errMissingDSN = errors.New("ORDERS_POSTGRES_DSN (or -dsn) is required")

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("некорректные аргументы")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.WithError(err).WithField("direction", opts.direction).Fatal("миграция не выполнена")
	}
}

// parseOptions разбирает флаги. Для down без -steps откатывается одна миграция.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		dir  string
		opts options
	)
	fs.StringVar(&dir, "direction", string(directionUp), "up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations (0 = all for up)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to ORDERS_POSTGRES_DSN")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must not be negative, got %d", opts.steps)
	}

	opts.direction = direction(strings.ToLower(strings.TrimSpace(dir)))
	switch opts.direction {
	case directionUp, directionStatus:
	case directionDown:
		if opts.steps == 0 {
			opts.steps = 1
		}
	default:
		return options{}, fmt.Errorf("unsupported direction %q (use up|down|status)", dir)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv("ORDERS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, errMissingDSN
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	switch opts.direction {
	case directionUp:
		err = store.MigrateUp(ctx, opts.steps)
	case directionDown:
		err = store.MigrateDown(ctx, opts.steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", opts.direction, err)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, err = fmt.Fprintln(out, formatStatus(opts.direction, state))
	return err
}

func formatStatus(dir direction, state postgres.MigrationState) string {
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", dir, state.Version, state.Applied, state.Pending)
}
