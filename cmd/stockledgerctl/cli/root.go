package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

// Deps lets tests replace configuration loading and the container.
type Deps struct {
	LoadConfig func() (*app.Config, error)
	Build      func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Container, error)
	NewJobs    func(opts asynq.RedisClientOpt) *JobsCLI
}

func (d Deps) withDefaults() Deps {
	if d.LoadConfig == nil {
		d.LoadConfig = app.LoadConfig
	}
	if d.Build == nil {
		d.Build = app.Build
	}
	if d.NewJobs == nil {
		d.NewJobs = NewJobsCLI
	}
	return d
}

// NewRootCommand assembles the operator CLI.
func NewRootCommand(deps Deps) *cobra.Command {
	deps = deps.withDefaults()
	var jsonOut bool
	root := &cobra.Command{
		Use:           "stockledgerctl",
		Short:         "Operate the ledger and inventory books",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON output")

	withContainer := func(cmd *cobra.Command, fn func(*app.Container) error) error {
		cfg, err := deps.LoadConfig()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
		c, err := deps.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(c)
	}

	root.AddCommand(
		newVerifyCommand(withContainer, &jsonOut),
		newRebuildCommand(withContainer, &jsonOut),
		newSeedCommand(withContainer, &jsonOut),
		newJobsCommand(deps, &jsonOut),
	)
	return root
}

type containerRunner func(cmd *cobra.Command, fn func(*app.Container) error) error

// ErrDriftFound is returned by verify when any cache disagrees with its log.
var ErrDriftFound = errors.New("drift found")

func newVerifyCommand(run containerRunner, jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the journal and movement logs and compare them with cached balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(c *app.Container) error {
				report, err := c.Jobs.Integrity.Run(cmd.Context(), false)
				if err != nil {
					return err
				}
				if *jsonOut {
					if err := writeJSON(cmd.OutOrStdout(), map[string]any{
						"clean":  report.Clean(),
						"ledger": report.Ledger,
						"stock":  report.Stock,
					}); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					for _, d := range report.Ledger {
						fmt.Fprintf(out, "account %s: cached %d replayed %d\n", d.Code, d.Cached, d.Replayed)
					}
					for _, d := range report.Stock {
						fmt.Fprintf(out, "lot %s: on hand %d replayed %d, reserved %d replayed %d\n",
							d.LotID, d.OnHand, d.Replayed, d.Reserved, d.ReservedReplayed)
					}
					if report.Clean() {
						fmt.Fprintln(out, "ok")
					}
				}
				if !report.Clean() {
					return ErrDriftFound
				}
				return nil
			})
		},
	}
}

func newRebuildCommand(run containerRunner, jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Overwrite drifted cached balances and lot quantities from the logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(c *app.Container) error {
				report, err := c.Jobs.Integrity.Run(cmd.Context(), true)
				if err != nil {
					return err
				}
				if *jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]int{
						"accounts": report.LedgerFixed,
						"lots":     report.StockFixed,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d accounts, %d lots\n", report.LedgerFixed, report.StockFixed)
				return nil
			})
		},
	}
}

func newSeedCommand(run containerRunner, jsonOut *bool) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create missing accounts and install role mappings from a seed file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(c *app.Container) error {
				seed := c.Seed
				if file != "" {
					var err error
					if seed, err = shared.LoadSeed(file); err != nil {
						return err
					}
				}
				created, err := c.Ledger.ApplySeed(cmd.Context(), seed)
				if err != nil {
					return err
				}
				if *jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"created": created})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d accounts\n", created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed YAML file (defaults to SEED_FILE or the built-in chart)")
	return cmd
}

func newJobsCommand(deps Deps, jsonOut *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Manage background jobs"}
	withJobs := func(fn func(*JobsCLI) error) error {
		cfg, err := deps.LoadConfig()
		if err != nil {
			return err
		}
		cli := deps.NewJobs(cfg.RedisOptions().Asynq())
		defer cli.Close()
		return fn(cli)
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <type>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.TaskTypes(),
		RunE: func(c *cobra.Command, args []string) error {
			return withJobs(func(cli *JobsCLI) error {
				info, err := cli.Trigger(c.Context(), args[0])
				if err != nil {
					return err
				}
				if *jsonOut {
					return writeJSON(c.OutOrStdout(), map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
				}
				fmt.Fprintf(c.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: func(c *cobra.Command, _ []string) error {
			return withJobs(func(cli *JobsCLI) error {
				stats, err := cli.InspectQueue()
				if err != nil {
					return err
				}
				if *jsonOut {
					return writeJSON(c.OutOrStdout(), stats)
				}
				fmt.Fprintf(c.OutOrStdout(), "%s: pending %d active %d scheduled %d retry %d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "types",
		Short: "List job types",
		RunE: func(c *cobra.Command, _ []string) error {
			for _, typ := range jobs.TaskTypes() {
				fmt.Fprintln(c.OutOrStdout(), typ)
			}
			return nil
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
