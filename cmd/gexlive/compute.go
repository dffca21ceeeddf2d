package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/compute"
	"github.com/dgnsrekt/gexlive/internal/notify"
)

func computeCmd() *cobra.Command {
	var (
		params       compute.Params
		symbol       string
		outputDir    string
		format       string
		workers      int
		skipExisting bool
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "compute FILE [FILE...]",
		Short: "Compute GEX metrics for option-chain spreadsheets",
		Long: `Upload each spreadsheet to the compute endpoint and store the result.

Results are written atomically to the output directory, one file per input.

Examples:
  # Compute a single chain
  gexlive compute --spot 24150 --expiry 0.0192 chain.xlsx

  # Batch with the BANKNIFTY contract size, YAML output, resuming a previous run
  gexlive compute --symbol BANKNIFTY --format yaml --skip-existing chains/*.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if params.ContractSize == 0 {
				if symbol != "" {
					spec, _ := cfg.Contract(symbol)
					params.ContractSize = spec.ContractSize
				} else {
					params.ContractSize = cfg.Session.ContractSize
				}
			}
			if params.Volatility == 0 {
				params.Volatility = cfg.Session.Volatility
			}
			if params.ColumnMode == "" {
				params.ColumnMode = cfg.Compute.ColumnMode
			}
			if outputDir == "" {
				outputDir = cfg.Compute.OutputDir
			}
			if workers == 0 {
				workers = cfg.Compute.Workers
			}
			format = strings.ToLower(format)
			if format != compute.FormatJSON && format != compute.FormatYAML {
				return fmt.Errorf("unknown format %q (use json or yaml)", format)
			}

			tasks := make([]compute.Task, 0, len(args))
			for _, path := range args {
				tasks = append(tasks, compute.Task{Path: path, Params: params})
			}

			logger.Info("generated tasks", zap.Int("count", len(tasks)))

			if dryRun {
				for _, t := range tasks {
					fmt.Printf("Would compute: %s -> %s\n", t, t.OutputPath(outputDir, format))
				}
				return nil
			}

			manager := compute.NewManager(newAPIClient(cfg), compute.Options{
				OutputDir:    outputDir,
				Format:       format,
				Workers:      workers,
				SkipExisting: skipExisting,
			}, clockwork.NewRealClock(), logger.Named("compute"))

			start := time.Now()
			result, err := manager.Execute(ctx, tasks)
			duration := time.Since(start)

			if result != nil {
				logger.Info("compute complete",
					zap.String("batch", result.ID),
					zap.Int("total", result.Total),
					zap.Int("success", result.Success),
					zap.Int("skipped", result.Skipped),
					zap.Int("failed", result.Failed),
					zap.Duration("duration", duration),
				)
				for _, e := range result.Errors {
					logger.Warn("task failed", zap.String("error", e))
				}

				notifier := notify.New(&cfg.Notify, logger.Named("notify"))
				if nerr := notifier.BatchFinished(ctx, result.Summary(), duration); nerr != nil {
					logger.Warn("failed to send notification", zap.Error(nerr))
				}
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d computations failed", result.Failed, result.Total)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&params.Spot, "spot", 0, "spot price")
	cmd.Flags().Float64Var(&params.Volatility, "vol", 0, "implied volatility (default session.volatility)")
	cmd.Flags().IntVar(&params.Strikes, "strikes", 0, "number of strikes around spot")
	cmd.Flags().Float64Var(&params.Expiry, "expiry", 0, "time to expiry in years")
	cmd.Flags().IntVar(&params.ContractSize, "contract-size", 0, "contract size (default from --symbol or session.contract_size)")
	cmd.Flags().StringVar(&params.ColumnMode, "column-mode", "", "column detection mode (default compute.column_mode)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "take the contract size from this symbol's contract spec")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default compute.output_dir)")
	cmd.Flags().StringVar(&format, "format", compute.FormatJSON, "output format: json or yaml")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent uploads (default compute.workers)")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip inputs whose result already exists")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be computed")

	return cmd
}
