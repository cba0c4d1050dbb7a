package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalis-labs/service_layer/internal/progress"
)

type reconcileOptions struct {
	stepNames []string
	dryRun    bool
	evidence  bool
}

func newReconcileCommand(root *RootOptions) *cobra.Command {
	opts := &reconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair stored step progress",
		Long: `Re-derive completion for stored progress rows so that completed and
completed_at agree and every completed step has its successor available.

With --evidence a step that owns a topic counts as completed exactly when the
user has saved answers for that topic. Without --step-name every catalog step
is scanned. Running the command twice reports no fixes the second time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(root, opts, cmd)
		},
	}
	cmd.Flags().StringSliceVar(&opts.stepNames, "step-name", nil, "step name to reconcile (repeatable)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report fixes without writing them")
	cmd.Flags().BoolVar(&opts.evidence, "evidence", false, "derive completion from saved topic answers")
	return cmd
}

func runReconcile(root *RootOptions, opts *reconcileOptions, cmd *cobra.Command) error {
	cfg, logger, err := root.loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	application, err := root.NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer application.Close()

	catalog := application.Journey.Catalog
	names := opts.stepNames
	if len(names) == 0 {
		for _, step := range catalog.List() {
			names = append(names, step.Name)
		}
	}
	for _, name := range names {
		if _, ok := catalog.ByName(name); !ok {
			return WrapExitError(ExitCommandError, fmt.Sprintf("unknown step name %q", name), nil)
		}
	}

	ropts := progress.ReconcileOptions{
		StepNames: names,
		Catalog:   catalog,
		DryRun:    opts.dryRun,
	}
	if opts.evidence {
		ropts.Evidence = application.Topics.Evidence()
	}

	start := time.Now()
	report, runErr := progress.Reconcile(cmd.Context(), application.Store, ropts)
	if report == nil {
		return WrapExitError(ExitFailure, "reconcile", runErr)
	}
	for _, fix := range report.Fixes {
		for _, reason := range fix.Reasons {
			application.Metrics.RecordReconcileFix(reason)
		}
	}

	p := NewPrinter(cmd.OutOrStdout(), root.Format)
	if p.JSON() {
		if err := p.Encode(report); err != nil {
			return err
		}
	} else {
		for _, fix := range report.Fixes {
			p.Printf("%s step %d (%s): %s\n", fix.UserID, fix.StepNumber, fix.StepName, strings.Join(fix.Reasons, ", "))
		}
		summary := fmt.Sprintf("scanned %d rows, %d fixes in %s", report.Scanned, len(report.Fixes), formatDuration(time.Since(start)))
		if report.DryRun {
			p.Info(summary + " (dry run)")
		} else {
			p.Success(summary)
		}
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "some fixes were not written", runErr)
	}
	return nil
}
