package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DilaverShtini/nomi-cose-citta/internal/otelutil"
	"github.com/DilaverShtini/nomi-cose-citta/internal/server"
)

var releaseVersion = "devel"

type config struct {
	bind        string
	port        int
	adminPort   int
	minPlayers  int
	rounds      int
	voteTimeout time.Duration
	roundBreak  time.Duration
	verbose     bool
}

func (c *config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.adminPort != 0 && (c.adminPort < 1 || c.adminPort > 65535 || c.adminPort == c.port) {
		return fmt.Errorf("invalid admin port: %d", c.adminPort)
	}
	if c.minPlayers < 2 {
		return fmt.Errorf("at least 2 players are needed for a game, got %d", c.minPlayers)
	}
	if c.rounds < 1 {
		return fmt.Errorf("invalid round count: %d", c.rounds)
	}
	return nil
}

func newCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CITTA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "citta-server",
		Short:         "Session server for the Nomi Cose Città party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CITTA_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 5000, "game port to listen on (env: CITTA_PORT)")
	fs.IntVar(&cfg.adminPort, "admin-port", 0, "admin api port, 0 to disable (env: CITTA_ADMIN_PORT)")
	fs.IntVar(&cfg.minPlayers, "min-players", 2, "players needed before a round starts (env: CITTA_MIN_PLAYERS)")
	fs.IntVar(&cfg.rounds, "rounds", 3, "rounds per game (env: CITTA_ROUNDS)")
	fs.DurationVar(&cfg.voteTimeout, "vote-timeout", 60*time.Second, "time before voting closes without all votes (env: CITTA_VOTE_TIMEOUT)")
	fs.DurationVar(&cfg.roundBreak, "round-break", 5*time.Second, "pause between rounds (env: CITTA_ROUND_BREAK)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CITTA_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("citta-server v{{.Version}}\n")

	return cmd
}

func run(ctx context.Context, cfg *config) error {
	if err := otelutil.Init(); err != nil {
		log.Printf("[OTEL] tracing disabled: %v", err)
	}
	defer otelutil.Flush()

	srv := server.New(server.Config{
		Bind:        cfg.bind,
		Port:        cfg.port,
		AdminPort:   cfg.adminPort,
		MinPlayers:  cfg.minPlayers,
		Rounds:      cfg.rounds,
		VoteTimeout: cfg.voteTimeout,
		RoundBreak:  cfg.roundBreak,
		Verbose:     cfg.verbose,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("[SHUTDOWN] received %s", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Printf("[SHUTDOWN] server stopped")
	return nil
}

func main() {
	cfg := &config{}
	if err := newCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
