package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/glassbead/atris/internal/chat"
	discordadapter "github.com/glassbead/atris/internal/chat/discord"
	slackadapter "github.com/glassbead/atris/internal/chat/slack"
	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/session"
	"github.com/glassbead/atris/internal/store"
	"github.com/glassbead/atris/internal/web"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web query console",
		Long: "Serves the query console, plus the chat bridge when chat.platform is set " +
			"and the route-cache pruner when the cache is enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath, out)
	if err != nil {
		return err
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}

	auth, err := web.NewAuth(a.cfg.Auth)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.ManagerOpts{
		Router: a.router,
		Agents: a.agents,
		TTL:    a.cfg.SessionTTL(),
		Out:    out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	go sessions.Run(ctx)

	if a.db != nil {
		if err := store.StartPruner(ctx, store.PrunerOpts{
			DB:       a.db,
			Schedule: a.cfg.Store.PruneSchedule,
			MaxAge:   a.cfg.MaxAge(),
			Out:      out,
		}); err != nil {
			return err
		}
	}

	bridgeDone := make(chan struct{})
	if a.cfg.Chat.Platform != "" {
		adapter, err := createAdapter(a.cfg)
		if err != nil {
			return err
		}
		bridge, err := chat.NewBridge(chat.BridgeOpts{Adapter: adapter, Sessions: sessions, Out: out})
		if err != nil {
			return err
		}
		go func() {
			defer close(bridgeDone)
			if err := bridge.Run(ctx); err != nil {
				log.Printf("chat: %v", err)
			}
		}()
	} else {
		close(bridgeDone)
	}

	err = web.Start(ctx, web.StartOpts{
		Sessions: sessions,
		Router:   a.router,
		Auth:     auth,
		Port:     port,
		Out:      out,
	})
	cancel()
	<-bridgeDone
	return err
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (chat.Adapter, error) {
	switch cfg.Chat.Platform {
	case "slack":
		return slackadapter.New(slackadapter.Options{
			AppToken: cfg.Chat.Slack.AppToken,
			BotToken: cfg.Chat.Slack.BotToken,
			Channel:  cfg.Chat.Slack.ChannelID,
		})
	case "discord":
		return discordadapter.New(discordadapter.Options{
			BotToken: cfg.Chat.Discord.BotToken,
			Channel:  cfg.Chat.Discord.ChannelID,
		})
	default:
		return nil, fmt.Errorf("chat: unsupported platform %q", cfg.Chat.Platform)
	}
}
