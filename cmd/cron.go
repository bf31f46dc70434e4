package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/skyefall/nanobot/internal/config"
	"github.com/skyefall/nanobot/internal/cron"
)

func cronCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cron",
		Short: "Inspect and manage the scheduled job catalog",
	}
	root.AddCommand(cronListCmd())
	root.AddCommand(cronAddCmd())
	root.AddCommand(cronRemoveCmd())
	root.AddCommand(cronEnableCmd())
	root.AddCommand(cronRunCmd())
	return root
}

// openCatalog loads the cron engine directly against the workspace's
// catalog file, without starting channels/gateway — enough for the
// list/add/remove/enable subcommands, which only ever mutate the catalog.
func openCatalog() (*cron.Engine, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	workspace := config.ExpandHome(cfg.Agent.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, err
	}
	return cron.NewEngine(filepath.Join(workspace, "cron", "jobs.json"), nil, nil)
}

func cronListCmd() *cobra.Command {
	var includeDisabled bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			engine, err := openCatalog()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			jobs := engine.ListJobs(includeDisabled)
			if len(jobs) == 0 {
				fmt.Println("no jobs scheduled")
				return
			}
			for _, j := range jobs {
				fmt.Printf("%s\t%s\tenabled=%v\tnext_run=%d\n", j.ID, j.Name, j.Enabled, j.State.NextRunAtMS)
			}
		},
	}
	c.Flags().BoolVar(&includeDisabled, "all", false, "include disabled jobs")
	return c
}

func cronAddCmd() *cobra.Command {
	var (
		name    string
		every   string
		expr    string
		tz      string
		message string
		to      string
		channel string
		deliver bool
	)
	c := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job (one of --every or --cron-expr required)",
		Run: func(cmd *cobra.Command, args []string) {
			engine, err := openCatalog()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			var sched cron.Schedule
			switch {
			case every != "":
				d, err := parseDurationMS(every)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				sched = cron.Schedule{Kind: cron.KindEvery, EveryMS: d}
			case expr != "":
				sched = cron.Schedule{Kind: cron.KindCron, Expr: expr, TZ: tz}
			default:
				fmt.Fprintln(os.Stderr, "one of --every or --cron-expr is required")
				os.Exit(1)
			}
			job, err := engine.AddJob(name, sched, cron.Payload{
				Message: message,
				Deliver: deliver,
				To:      to,
				Channel: channel,
			}, true)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("added job %s (%s)\n", job.ID, job.Name)
		},
	}
	c.Flags().StringVar(&name, "name", "", "job name")
	c.Flags().StringVar(&every, "every", "", "fire every duration (e.g. 30m, 1h)")
	c.Flags().StringVar(&expr, "cron-expr", "", "5-field cron expression")
	c.Flags().StringVar(&tz, "tz", "", "timezone for --cron-expr")
	c.Flags().StringVar(&message, "message", "", "prompt sent to the agent when the job fires")
	c.Flags().StringVar(&to, "to", "", "chat id to deliver the reply to")
	c.Flags().StringVar(&channel, "channel", "", "channel to deliver the reply on")
	c.Flags().BoolVar(&deliver, "deliver", false, "deliver the agent's reply to --channel/--to")
	return c
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			engine, err := openCatalog()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			ok, err := engine.RemoveJob(args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if !ok {
				fmt.Fprintf(os.Stderr, "job %s not found\n", args[0])
				os.Exit(1)
			}
			fmt.Println("removed")
		},
	}
}

func cronEnableCmd() *cobra.Command {
	var disable bool
	c := &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable (or --disable) a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			engine, err := openCatalog()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			ok, err := engine.EnableJob(args[0], !disable)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if !ok {
				fmt.Fprintf(os.Stderr, "job %s not found\n", args[0])
				os.Exit(1)
			}
			fmt.Println("ok")
		},
	}
	c.Flags().BoolVar(&disable, "disable", false, "disable instead of enable")
	return c
}

func cronRunCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Fire a job immediately through the agent",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if err := rt.cronEngine.RunJob(context.Background(), args[0], force); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println("fired")
		},
	}
	c.Flags().BoolVar(&force, "force", false, "fire even if the job is disabled")
	return c
}

func parseDurationMS(s string) (int64, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}
