package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/soyeahso/supportsync/internal/api"
	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/engine"
	"github.com/soyeahso/supportsync/internal/logging"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/store"
	"github.com/soyeahso/supportsync/internal/version"
)

var (
	_ engine.API      = (*api.Client)(nil)
	_ engine.Outbound = (*channel.Adapter)(nil)
	_ controller      = (*engine.Engine)(nil)
)

func newRunCmd() *cobra.Command {
	var (
		role      string
		agentID   string
		name      string
		transport string
		url       string
		backend   string
		noInput   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a dashboard or widget client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if role != "" {
				cfg.Role = role
			}
			if agentID != "" {
				cfg.AgentID = agentID
			}
			if transport != "" {
				cfg.Channel.Transport = transport
			}
			if url != "" {
				cfg.Channel.URL = url
			}
			if backend != "" {
				cfg.Store.Backend = backend
			}
			if err := validate(&cfg); err != nil {
				return err
			}

			runLog, closeLog, err := logging.FromConfig(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var input io.Reader = os.Stdin
			if noInput {
				input = nil
			}
			return runClient(ctx, cfg, name, input, os.Stdout, runLog)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "client role (dashboard, widget)")
	cmd.Flags().StringVar(&agentID, "agent", "", "staff member id for the dashboard role")
	cmd.Flags().StringVar(&name, "name", "", "display name announced to other clients")
	cmd.Flags().StringVar(&transport, "transport", "", "override channel transport (websocket, nats)")
	cmd.Flags().StringVar(&url, "url", "", "override websocket channel url")
	cmd.Flags().StringVar(&backend, "store", "", "override durability backend (sqlite, redis, memory)")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "render only, do not read commands from stdin")

	return cmd
}

// runClient wires the durability backend, API client, transport and engine,
// bootstraps, and serves until ctx is cancelled. Commands are read from in
// when it is non-nil.
func runClient(ctx context.Context, cfg config.Config, name string, in io.Reader, out io.Writer, log *logging.Logger) error {
	if err := paths.EnsureDirs(); err != nil {
		return errors.Wrap(err, "creating data directories")
	}

	backend, err := store.OpenBackend(ctx, store.Options{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis: store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		},
	}, paths.Data, log)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer backend.Close()
	durable := store.NewDurability(backend, cfg.Profile, cfg.Engine.HistoryLimit, log)

	info := channel.ClientInfo{
		ID:          cfg.AgentID,
		DisplayName: name,
		Version:     version.Version,
		Platform:    runtime.GOOS,
		Role:        cfg.Role,
		InstanceID:  uuid.New().String(),
	}
	if info.ID == "" {
		info.ID = info.InstanceID
	}
	dialer, err := channel.DefaultRegistry(log).Dialer(cfg.Channel, info)
	if err != nil {
		return err
	}
	adapter := channel.NewAdapter(dialer, log,
		channel.WithBackoff(cfg.Channel.Reconnect.Initial(), cfg.Channel.Reconnect.Max()))

	trigger := present.NewTrigger(log)
	eng := engine.New(engine.ConfigFrom(cfg), adapter, api.New(cfg.API, log), durable, trigger, log)
	newConsole(out, eng.Replica(), eng.SessionsView).attach(trigger)

	adapter.ObserveAll(eng.Apply)
	adapter.OnStatus(eng.OnStatus)

	log.Info().
		Str("role", cfg.Role).
		Str("transport", adapter.Transport()).
		Str("store", backend.Name()).
		Str("profile", cfg.Profile).
		Msg("client starting")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		adapter.Run(ctx)
	}()

	if err := eng.Bootstrap(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("bootstrap incomplete")
	}

	if in != nil {
		go readCommands(ctx, eng, in, out)
	}

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("client stopped")
	return nil
}

// readCommands feeds stdin lines to the engine until EOF.
func readCommands(ctx context.Context, ctl controller, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := execute(ctx, ctl, scanner.Text()); err != nil {
			var usage usageError
			if errors.As(err, &usage) {
				fmt.Fprintln(out, usage)
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
