package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/services/metrics"
)

func (cli *commandLine) flagOverdue(ctx context.Context, opts lifecycle.FlagOptions) error {
	started := cli.clock()
	res, err := cli.engine.Controller.FlagOverdue(ctx, opts)
	cli.observe(ctx, metrics.RunStats{
		Job:       "flag_overdue",
		Processed: res.Processed,
		Failed:    len(res.Failed),
		Warnings:  len(res.Warnings),
		Err:       err,
	}, started)
	if err != nil {
		return errors.Wrap(err, "flagging overdue approval requests")
	}

	cli.printFailures(res.Failed)
	cli.printWarnings(res.Warnings)
	_, _ = fmt.Fprintf(cli.out, "run %s: %d approval request(s) flagged overdue, %d failed\n", res.RunID, res.Processed, len(res.Failed))
	return nil
}

func (cli *commandLine) autoArchive(ctx context.Context, opts lifecycle.ArchiveOptions) error {
	started := cli.clock()
	res, err := cli.engine.Controller.AutoArchiveEligibleSurveys(ctx, opts)
	cli.observe(ctx, metrics.RunStats{
		Job:       "auto_archive",
		DryRun:    res.DryRun,
		Processed: len(res.Archived),
		Skipped:   len(res.Skipped),
		Failed:    len(res.Failed),
		Warnings:  len(res.Warnings),
		Err:       err,
	}, started)
	if err != nil {
		return errors.Wrap(err, "archiving surveys")
	}

	if len(res.Decisions) > 0 {
		w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SURVEY\tTITLE\tRESPONSES\tDECISION")
		for _, d := range res.Decisions {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", d.SurveyID, d.Title, d.Responses, d.Note)
		}
		_ = w.Flush()
	}
	cli.printWarnings(res.Warnings)

	verb := "archived"
	if res.DryRun {
		verb = "would be archived (dry run)"
	}
	_, _ = fmt.Fprintf(cli.out, "run %s: %d survey(s) %s, %d skipped, %d failed\n",
		res.RunID, len(res.Archived), verb, len(res.Skipped), len(res.Failed))
	return nil
}

func (cli *commandLine) reconcile(ctx context.Context, opts lifecycle.ReconcileOptions, yes bool) error {
	if !opts.DryRun && !yes && isTerminalFunc(cli.inFd) {
		preview, err := cli.engine.Approvals.ReconcileMissingRequests(ctx, lifecycle.ReconcileOptions{
			ResponseID: opts.ResponseID,
			DryRun:     true,
		})
		if err != nil {
			return errors.Wrap(err, "listing responses missing approval requests")
		}
		if len(preview.Candidates) == 0 {
			_, _ = fmt.Fprintln(cli.out, "no submitted response is missing an approval request")
			return nil
		}
		ok, err := cli.confirm(fmt.Sprintf("Create approval requests for %d response(s)?", len(preview.Candidates)))
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cli.out, "aborted")
			return nil
		}
	}

	started := cli.clock()
	res, err := cli.engine.Approvals.ReconcileMissingRequests(ctx, opts)
	cli.observe(ctx, metrics.RunStats{
		Job:       "reconcile",
		DryRun:    res.DryRun,
		Processed: res.Created,
		Failed:    len(res.Failed),
		Err:       err,
	}, started)
	if err != nil {
		return errors.Wrap(err, "reconciling approval requests")
	}

	if res.DryRun {
		for _, id := range res.Candidates {
			_, _ = fmt.Fprintf(cli.out, "response %d is missing an approval request\n", id)
		}
		_, _ = fmt.Fprintf(cli.out, "run %s: %d approval request(s) would be created (dry run)\n", res.RunID, len(res.Candidates))
		return nil
	}
	cli.printFailures(res.Failed)
	_, _ = fmt.Fprintf(cli.out, "run %s: %d approval request(s) created, %d failed\n", res.RunID, res.Created, len(res.Failed))
	return nil
}

func (cli *commandLine) confirm(question string) (bool, error) {
	_, _ = fmt.Fprintf(cli.out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(cli.in).ReadString('\n')
	if err != nil && answer == "" {
		return false, errors.Wrap(err, "reading confirmation")
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
