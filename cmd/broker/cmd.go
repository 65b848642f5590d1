package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mendebian/p2p-game/internal/broker"
	"github.com/mendebian/p2p-game/internal/config"
	"github.com/mendebian/p2p-game/internal/logging"
)

type options struct {
	config     string
	host       string
	port       int
	relayRate  float64
	relayBurst int
	debug      bool
}

// apply copies the flags the user set over the file configuration.
func (o *options) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("host") {
		cfg.Server.Host = o.host
	}
	if fs.Changed("port") {
		cfg.Server.Port = o.port
	}
	if fs.Changed("relay-rate") {
		cfg.Broker.RelayRate = o.relayRate
	}
	if fs.Changed("relay-burst") {
		cfg.Broker.RelayBurst = o.relayBurst
	}
}

func newCmd(opts *options) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("P2PGAME")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "broker",
		Short:   "Rendezvous and relay server for p2p-game peers.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(opts.config)
			if err != nil {
				return err
			}
			opts.apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.debug)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	defaults := config.Default()
	fs.StringVarP(&opts.config, "config", "c", "config.yaml", "path to config file (env: P2PGAME_CONFIG)")
	fs.StringVarP(&opts.host, "host", "b", defaults.Server.Host, "address to bind to (env: P2PGAME_HOST)")
	fs.IntVarP(&opts.port, "port", "p", defaults.Server.Port, "port to listen on (env: P2PGAME_PORT)")
	fs.Float64Var(&opts.relayRate, "relay-rate", defaults.Broker.RelayRate, "frames per second each channel direction may relay (env: P2PGAME_RELAY_RATE)")
	fs.IntVar(&opts.relayBurst, "relay-burst", defaults.Broker.RelayBurst, "burst allowance on top of --relay-rate (env: P2PGAME_RELAY_BURST)")
	fs.BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging (env: P2PGAME_DEBUG)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("broker v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func run(parent context.Context, cfg *config.Config, debug bool) error {
	closer, err := logging.Setup(cfg.Log, debug)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broker.NewHub(cfg.Broker.RelayRate, cfg.Broker.RelayBurst, cfg.Broker.PingInterval)
	server := broker.NewServer(cfg, hub)

	log.Info().
		Float64("relay_rate", cfg.Broker.RelayRate).
		Int("relay_burst", cfg.Broker.RelayBurst).
		Msg("starting broker")

	err = broker.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, server.Routes())
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Info().Msg("broker stopped")
	return err
}
