package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mendebian/p2p-game/internal/config"
	"github.com/mendebian/p2p-game/internal/logging"
	"github.com/mendebian/p2p-game/internal/node"
	"github.com/mendebian/p2p-game/internal/transport/relay"
	"github.com/mendebian/p2p-game/internal/tui/app"
)

// keyRepeat is how many frames of movement one key press stands for. A
// terminal reports presses, not held keys.
const keyRepeat = 8

type options struct {
	config      string
	broker      string
	id          string
	name        string
	join        string
	logFile     string
	score       string
	collision   string
	noMigration bool
	debug       bool
}

// apply copies the flags the user set over the file configuration.
func (o *options) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("broker") {
		cfg.Broker.URL = o.broker
	}
	if fs.Changed("score") {
		cfg.Session.Score = o.score
	}
	if fs.Changed("collision") {
		cfg.Session.Collision = o.collision
	}
	if o.noMigration {
		cfg.Session.HostMigration = false
	}
	if fs.Changed("log-file") || cfg.Log.File == "" {
		cfg.Log.File = o.logFile
	}
}

func newCmd(opts *options) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("P2PGAME")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "peer",
		Short:   "Play in a p2p-game room: create one, or join one by its id.",
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
			return run(cmd.Context(), cfg, opts)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	defaults := config.Default()
	fs.StringVarP(&opts.config, "config", "c", "config.yaml", "path to config file (env: P2PGAME_CONFIG)")
	fs.StringVar(&opts.broker, "broker", defaults.Broker.URL, "websocket url of the broker (env: P2PGAME_BROKER)")
	fs.StringVar(&opts.id, "id", "", "peer id to request; also the room id when hosting (env: P2PGAME_ID)")
	fs.StringVarP(&opts.name, "name", "n", "", "display name of the local player (env: P2PGAME_NAME)")
	fs.StringVarP(&opts.join, "join", "j", "", "room id to join; a new room is created when empty (env: P2PGAME_JOIN)")
	fs.StringVar(&opts.logFile, "log-file", "peer.log", "where to write logs while the UI runs (env: P2PGAME_LOG_FILE)")
	fs.StringVar(&opts.score, "score", defaults.Session.Score, "score mode: none, single or home-away (env: P2PGAME_SCORE)")
	fs.StringVar(&opts.collision, "collision", defaults.Session.Collision, "collision mode: none, analytic or rigid-body (env: P2PGAME_COLLISION)")
	fs.BoolVar(&opts.noMigration, "no-migration", false, "leave the room instead of electing a new host (env: P2PGAME_NO_MIGRATION)")
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
	cmd.SetVersionTemplate("peer v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func run(parent context.Context, cfg *config.Config, opts *options) error {
	closer, err := logging.Setup(cfg.Log, opts.debug)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := relay.Dial(ctx, cfg.Broker.URL, relay.Options{
		ID:           opts.id,
		PingInterval: cfg.Broker.PingInterval,
		PongTimeout:  cfg.Broker.PongTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer client.Close()

	n, err := node.New(client, cfg.Session, node.Options{Name: opts.name})
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-n.Done()
	}()
	go func() {
		if err := n.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("node stopped")
		}
	}()

	if opts.join == "" {
		if err := n.CreateRoom(); err != nil {
			return err
		}
		log.Info().Str("room", n.ID()).Msg("room created")
	} else {
		if err := n.Join(ctx, opts.join); err != nil {
			return fmt.Errorf("join %s: %w", opts.join, err)
		}
		log.Info().Str("room", opts.join).Msg("joined room")
	}

	m := app.New(n, cfg.Session.CanvasWidth, cfg.Session.CanvasHeight, cfg.Session.PlayerSpeed*keyRepeat)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
