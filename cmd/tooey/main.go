// Command tooey runs the autonomous agent: single ticks, the continuous
// loop, the web facade, and the administration surface for tasks, skills,
// beliefs, and maintenance.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tooey/internal/agent"
	"tooey/internal/config"
	"tooey/internal/server"
	"tooey/internal/shared/logging"
)

var configPath string

func main() {
	// A missing .env is fine; explicit config always wins.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "tooey",
		Short:         "Autonomous task agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(
		newTickCmd(),
		newRunCmd(),
		newHealthCmd(),
		newInitCmd(),
		newWebCmd(),
		newSummarizeCmd(),
		newSnapshotCmd(),
		newRestoreCmd(),
		newMaintainCmd(),
		newRecallCmd(),
		newSkillCmd(),
		newBeliefCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildAgent() (*agent.Agent, *agent.Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logging.Configure(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Console)

	svc, err := agent.NewServices(&cfg)
	if err != nil {
		return nil, nil, err
	}
	return agent.New(svc), svc, nil
}

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single agent tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildAgent()
			if err != nil {
				return err
			}
			result := a.Tick(cmd.Context())
			fmt.Println(result.Message)
			if result.TaskProcessed != "" {
				fmt.Printf("Task: %s (%d cycles, decision=%s)\n", result.TaskProcessed, result.CyclesRun, result.Decision)
			}
			if !result.Success {
				return fmt.Errorf("tick failed")
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildAgent()
			if err != nil {
				return err
			}
			a.Run(cmd.Context(), interval)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "idle sleep between ticks")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the agent filesystem and model endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildAgent()
			if err != nil {
				return err
			}
			pass := color.New(color.FgGreen).SprintFunc()
			fail := color.New(color.FgRed).SprintFunc()

			results := a.HealthCheck()
			allOK := true
			for _, name := range []string{"agent_home", "boot_files", "logs_writable", "llm_connection", "invariants"} {
				check, ok := results[name]
				if !ok {
					continue
				}
				mark := pass("✓")
				if !check.OK {
					mark = fail("✗")
					allOK = false
				}
				fmt.Printf("%s %-15s %s\n", mark, name, check.Message)
			}
			if !allOK {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the agent home skeleton",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, svc, err := buildAgent()
			if err != nil {
				return err
			}
			if err := a.Initialize(); err != nil {
				return err
			}
			fmt.Println("Initialized agent home at", svc.Config.AgentHome)
			return nil
		},
	}
}

func newWebCmd() *cobra.Command {
	var (
		host      string
		port      int
		withAgent bool
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the web facade, optionally alongside the agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, svc, err := buildAgent()
			if err != nil {
				return err
			}
			if host == "" {
				host = svc.Config.Web.Host
			}
			if port == 0 {
				port = svc.Config.Web.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(a, svc)
			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return srv.Run(ctx, host, port)
			})
			if withAgent {
				group.Go(func() error {
					a.Run(ctx, interval)
					return nil
				})
			}
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "bind host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (default from config)")
	cmd.Flags().BoolVar(&withAgent, "with-agent", false, "also run the agent loop")
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "agent idle sleep between ticks")
	return cmd
}
