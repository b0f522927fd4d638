package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"go.uber.org/fx"

	"github.com/tigerroll/replica/pkg/replica/adapter/database"
	config "github.com/tigerroll/replica/pkg/replica/core/config"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/core/domain/repository"
	"github.com/tigerroll/replica/pkg/replica/engine/scheduler"
	"github.com/tigerroll/replica/pkg/replica/infrastructure/migration"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// deps holds what the one-shot commands use from the graph.
type deps struct {
	Cfg       *config.Config
	Store     repository.LoadStatusStore
	Resolver  database.DBConnectionResolver
	Scheduler *scheduler.Scheduler
}

// runOneShot starts the graph, runs fn and stops the graph.
func runOneShot(options []fx.Option, fn func(ctx context.Context, d deps) error) error {
	var d deps
	app := fx.New(append(options, fx.Populate(&d.Cfg, &d.Store, &d.Resolver, &d.Scheduler))...)
	if err := app.Err(); err != nil {
		return err
	}
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx, d)
	if err := app.Stop(ctx); err != nil {
		logger.Warnf("Shutdown failed: %v", err)
	}
	return runErr
}

func cmdOnce(ctx context.Context, d deps) error {
	res, err := d.Scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		logger.Infof("No run started: %s.", res.Reason)
		return nil
	}
	return res.Err
}

func cmdStatus(out io.Writer, args []string) func(ctx context.Context, d deps) error {
	return func(ctx context.Context, d deps) error {
		limit := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("status: invalid run count %q", args[0])
			}
			limit = n
		}
		runs, err := d.Store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		return printRuns(out, runs, d.Cfg.Replica.Engine.DateTimeFormat)
	}
}

func printRuns(out io.Writer, runs []model.LoadRun, layout string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTYPE\tCT FIRST\tCT LAST\tWINDOW")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Status, r.Type, r.FirstVersion, r.LastVersion, r.Window(layout))
	}
	return tw.Flush()
}

func cmdTransition(args []string, from []model.LoadStatus, to model.LoadStatus) func(ctx context.Context, d deps) error {
	return func(ctx context.Context, d deps) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one run id")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		var lastErr error
		for _, f := range from {
			lastErr = d.Store.TransitionRun(ctx, id, f, to)
			if lastErr == nil {
				logger.Infof("Run %d moved from %s to %s.", id, f, to)
				return nil
			}
		}
		return lastErr
	}
}

func cmdMigrate(ctx context.Context, d deps) error {
	conn, err := d.Resolver.ResolveDBConnection(ctx, d.Cfg.Replica.Engine.TargetDBRef)
	if err != nil {
		return err
	}
	m := migration.NewMigrator(conn)
	if err := m.Up(ctx); err != nil {
		return err
	}
	v, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logger.Infof("Run-history schema at version %d (dirty=%t).", v, dirty)
	return nil
}
