package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"golang.org/x/term"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/services/metrics"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sql.DB
	conf    *core.Config
	engine  *lifecycle.Engine
	metrics *metrics.Recorder
	logger  core.Logger

	in    io.Reader
	inFd  int
	out   io.Writer
	clock func() time.Time
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  flag-overdue-approvals [-limit N] [-chunk-size N]         - flag approval requests past their deadline")
	_, _ = fmt.Fprintln(cli.out, "  auto-archive-surveys [-dry-run] [-limit N]                - archive ended surveys with collected responses")
	_, _ = fmt.Fprintln(cli.out, "  reconcile-missing-approvals [-dry-run] [-response-id N] [-yes]")
	_, _ = fmt.Fprintln(cli.out, "                                                            - open missing approval requests of submitted responses")
	_, _ = fmt.Fprintln(cli.out, "  delegate-approval -actor ID -reason TEXT [-expires-in-days N] REQUEST_ID DELEGATE_ID")
	_, _ = fmt.Fprintln(cli.out, "                                                            - delegate approval authority on a request")
	_, _ = fmt.Fprintln(cli.out, "  createdb                                                  - create the app database user and database")
	_, _ = fmt.Fprintln(cli.out, "  migrate up|up-by-one|up-to VERSION|down|down-to VERSION|redo")
	_, _ = fmt.Fprintln(cli.out, "                                                            - run database migrations")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "flag-overdue-approvals":
		cmd := cli.newFlagSet(args[1])
		limit := cmd.Int("limit", cli.conf.Lifecycle.OverdueLimit, "Max number of requests flagged (0: no limit).")
		chunkSize := cmd.Int("chunk-size", cli.conf.Lifecycle.ChunkSize, "Number of requests scanned per chunk.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.flagOverdue(ctx, lifecycle.FlagOptions{Limit: *limit, ChunkSize: *chunkSize})

	case "auto-archive-surveys":
		cmd := cli.newFlagSet(args[1])
		dryRun := cmd.Bool("dry-run", false, "List what would be archived without archiving anything.")
		limit := cmd.Int("limit", 0, "Max number of surveys archived (0: no limit).")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.autoArchive(ctx, lifecycle.ArchiveOptions{DryRun: *dryRun, Limit: *limit})

	case "reconcile-missing-approvals":
		cmd := cli.newFlagSet(args[1])
		dryRun := cmd.Bool("dry-run", false, "List the responses missing a request without creating any.")
		responseID := cmd.Int64("response-id", 0, "Only reconcile this response.")
		approverID := cmd.Int64("approver", 0, "ID of the user the created requests are assigned to (0: the configured approver).")
		yes := cmd.Bool("yes", false, "Do not ask for confirmation.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		opts := lifecycle.ReconcileOptions{DryRun: *dryRun}
		if *responseID > 0 {
			opts.ResponseID = responseID
		}
		if *approverID > 0 {
			opts.ApproverID = approverID
		}
		return cli.reconcile(ctx, opts, *yes)

	case "delegate-approval":
		cmd := cli.newFlagSet(args[1])
		actorID := cmd.Int64("actor", 0, "ID of the user delegating their authority.")
		reason := cmd.String("reason", "", "Why the approval is delegated.")
		days := cmd.Int("expires-in-days", cli.conf.Lifecycle.DelegationDefaultDays, "Days until the delegation expires.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *actorID <= 0 || cmd.NArg() != 2 {
			cmd.Usage()
			return errHelp
		}
		in, err := delegationInput(cmd.Arg(0), cmd.Arg(1), *reason, *days)
		if err != nil {
			return err
		}
		return cli.delegate(ctx, lifecycle.Actor{ID: *actorID}, in)

	case "createdb":
		return cli.createDB(ctx)

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	default:
		cli.printUsage()
		return errHelp
	}
}

// observe records a batch run's metrics and pushes them when a Pushgateway is configured.
func (cli *commandLine) observe(ctx context.Context, stats metrics.RunStats, started time.Time) {
	if cli.metrics == nil {
		return
	}
	stats.Duration = cli.clock().Sub(started)
	cli.metrics.ObserveRun(stats)
	if err := cli.metrics.Push(ctx, cli.conf.PushgatewayURL, stats.Job); err != nil {
		cli.logger.Warn("pushing batch metrics", err, map[string]interface{}{"job": stats.Job})
	}
}

func (cli *commandLine) printWarnings(warnings []*lifecycle.NonFatalError) {
	for _, w := range warnings {
		_, _ = fmt.Fprintf(cli.out, "warning: %v\n", w)
	}
}

func (cli *commandLine) printFailures(failed []error) {
	for _, err := range failed {
		_, _ = fmt.Fprintf(cli.out, "failed: %v\n", err)
	}
}
