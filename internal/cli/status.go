package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/store"
	"github.com/soyeahso/supportsync/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and persisted client state",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("supportsync %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}
			printSummary(os.Stdout, cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if durable, closeFn, err := openDurability(ctx, cfg); err != nil {
				fmt.Printf("State:   unavailable (%v)\n", err)
			} else {
				printState(ctx, os.Stdout, durable)
				closeFn()
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}
			return nil
		},
	}
}

func printSummary(w io.Writer, cfg config.Config) {
	agent := cfg.AgentID
	if agent == "" {
		agent = "(none)"
	}
	fmt.Fprintf(w, "Role:    %s profile=%s agent=%s\n", cfg.Role, cfg.Profile, agent)
	switch cfg.Channel.Transport {
	case "nats":
		fmt.Fprintf(w, "Channel: nats servers=%s prefix=%s\n",
			strings.Join(cfg.Channel.NATS.Servers, ","), cfg.Channel.NATS.SubjectPrefix)
	default:
		fmt.Fprintf(w, "Channel: websocket url=%s\n", cfg.Channel.URL)
	}
	fmt.Fprintf(w, "API:     %s timeout=%s\n", cfg.API.BaseURL, cfg.API.Timeout())
	switch cfg.Store.Backend {
	case "redis":
		fmt.Fprintf(w, "Store:   redis addr=%s db=%d\n", cfg.Store.Redis.Addr, cfg.Store.Redis.DB)
	default:
		fmt.Fprintf(w, "Store:   %s\n", cfg.Store.Backend)
	}
	fmt.Fprintf(w, "Engine:  staffRoom=%s settle=%s typing=%s/%s actionTimeout=%s history=%d\n",
		cfg.Engine.StaffRoom, cfg.Engine.SettleDelay(), cfg.Engine.TypingWindow(),
		cfg.Engine.TypingQuiet(), cfg.Engine.ActionTimeout(), cfg.Engine.HistoryLimit)
	fmt.Fprintf(w, "Relay:   port=%d bind=%s\n", cfg.Relay.Port, cfg.Relay.Bind)
}

func printState(ctx context.Context, w io.Writer, d *store.Durability) {
	focus, ok := d.LoadFocus(ctx)
	if !ok {
		focus = "(none)"
	}
	fmt.Fprintf(w, "Focus:   %s\n", focus)

	var filter string
	if !d.LoadPreference(ctx, store.PrefChatFilter, &filter) {
		filter = "all"
	}
	var autoAssign, widgetOpen bool
	d.LoadPreference(ctx, store.PrefAutoAssign, &autoAssign)
	d.LoadPreference(ctx, store.PrefWidgetOpen, &widgetOpen)
	fmt.Fprintf(w, "Prefs:   filter=%s autoAssign=%v widgetOpen=%v\n", filter, autoAssign, widgetOpen)
}

// openDurability opens the configured backend for offline inspection.
func openDurability(ctx context.Context, cfg config.Config) (*store.Durability, func() error, error) {
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
		return nil, nil, err
	}
	return store.NewDurability(backend, cfg.Profile, cfg.Engine.HistoryLimit, log), backend.Close, nil
}
