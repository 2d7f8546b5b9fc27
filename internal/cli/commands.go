package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/config"
	"github.com/sigmafold/alphahunt/internal/display"
	"github.com/sigmafold/alphahunt/internal/service"
	"github.com/sigmafold/alphahunt/models"
)

const version = "0.3.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alphahunt",
		Short: "alphahunt - multi-agent crypto alpha hunting",
		Long: `alphahunt coordinates a roster of market data agents: each hunt fans a
topic out to every agent, stakes their confidence against the weighted
consensus, and later settles everyone against real price movement.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Configuration file path")

	rootCmd.AddCommand(newHuntCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAutopilotCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setup loads config and builds the logger shared by every command.
func setup(cmd *cobra.Command) (config.Config, *config.Manager, *zap.Logger, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	configPath, _ := cmd.Flags().GetString("config")

	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("build logger: %w", err)
	}

	opts := []config.ManagerOption{config.WithLogger(logger)}
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath))
	}
	mgr, err := config.NewManager(opts...)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}

	cfg := mgr.Get()
	if debug {
		cfg.Debug = true
	}
	return cfg, mgr, logger, nil
}

// watchConfig starts hot reload of the on-disk config while a long-lived
// command runs. Roster and address changes still need a restart; the
// reload is logged so operators can tell the edit was picked up.
func watchConfig(ctx context.Context, mgr *config.Manager, logger *zap.Logger) error {
	return mgr.Watch(ctx, func(cfg config.Config) {
		logger.Info("configuration reloaded",
			zap.String("path", mgr.Path()),
			zap.Int("agents", len(cfg.Agents)),
			zap.Strings("topics", cfg.AutopilotTopics))
	})
}

func newHuntCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hunt [TOPIC]",
		Short: "Run one hunt and print the synthesized report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			topic := args[0]
			for _, extra := range args[1:] {
				topic += " " + extra
			}

			coord, err := service.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("start coordinator: %w", err)
			}
			defer coord.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			coord.Start(ctx)

			report := coord.StreamHunt(ctx, topic, func(ev models.StageEvent) {
				if line := display.RenderStage(ev); line != "" {
					fmt.Println(line)
				}
			})
			fmt.Println()
			fmt.Println(display.RenderReport(report))
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show reputation, breaker, and settlement state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			coord, err := service.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("start coordinator: %w", err)
			}
			defer coord.Close()

			fmt.Println("REPUTATION")
			fmt.Print(display.RenderReputation(coord.Reputation()))
			fmt.Println("BREAKERS")
			fmt.Print(display.RenderBreakers(coord.Breakers()))
			fmt.Println()
			fmt.Print(display.RenderSettlements(coord.PendingSettlements(), coord.SettlementHistory()))
			fmt.Println()
			fmt.Print(display.RenderAutopilot(coord.AutopilotState()))
			return nil
		},
	}
}

func newAutopilotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autopilot",
		Short: "Run the adaptive hunt loop in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			coord, err := service.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("start coordinator: %w", err)
			}
			defer coord.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			coord.Start(ctx)

			phases, unsubscribe := coord.Subscribe(models.TopicAutopilotPhase)
			defer unsubscribe()

			state := coord.StartAutopilot(ctx)
			fmt.Print(display.RenderAutopilot(state))

			for {
				select {
				case ev, ok := <-phases:
					if !ok {
						return nil
					}
					if phase, isPhase := ev.Payload.(models.PhaseEvent); isPhase {
						fmt.Printf("phase=%s interval=%dms topic=%s\n", phase.Phase, phase.Interval, phase.Topic)
					}
				case <-ctx.Done():
					fmt.Println()
					fmt.Print(display.RenderAutopilot(coord.StopAutopilot()))
					return nil
				}
			}
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the hunt and status HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, mgr, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			coord, err := service.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("start coordinator: %w", err)
			}
			defer coord.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			coord.Start(ctx)

			if err := watchConfig(ctx, mgr, logger); err != nil {
				logger.Warn("config hot reload unavailable", zap.Error(err))
			}

			srv := NewServer(coord, cfg.ListenAddr, logger)
			return srv.Run(ctx)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alphahunt v%s\n", version)
		},
	}
}
