package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DevRickLin/chat-relay/internal/api"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
	"github.com/DevRickLin/chat-relay/internal/data"
	"github.com/DevRickLin/chat-relay/internal/infra/feishu"
	"github.com/DevRickLin/chat-relay/internal/infra/whatsapp"
	"github.com/DevRickLin/chat-relay/internal/metrics"
	"github.com/DevRickLin/chat-relay/internal/server"
	"github.com/DevRickLin/chat-relay/internal/service"
)

// relayParts is the running relay subsystem
type relayParts struct {
	relay    *service.RelayService
	sessions *usecase.SessionStore
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	repos, err := data.NewRepositories(cfg.Store.ChatDBPath, cfg.Store.StateDBPath, data.CompletionConfig{
		APIKey:        cfg.OpenAI.APIKey,
		BaseURL:       cfg.OpenAI.BaseURL,
		Model:         cfg.OpenAI.Model,
		Timeout:       cfg.OpenAI.Timeout,
		RatePerMinute: cfg.OpenAI.RatePerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer repos.Close()
	logger.Info("Stores opened",
		zap.String("chat_db", cfg.Store.ChatDBPath),
		zap.String("state_db", cfg.Store.StateDBPath))

	// Notifications go to the log, the API feed and, when configured, Feishu
	feed := data.NewNotificationFeed(100)
	targets := []repo.NotifierRepo{data.NewLogNotifier(logger.Named("notify")), feed}
	var feishuClient *feishu.Client
	if cfg.Feishu.Enabled() {
		feishuClient = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger.Named("feishu"))
		if cfg.Feishu.OwnerChatID != "" {
			targets = append(targets, data.NewFeishuNotifier(feishuClient, cfg.Feishu.OwnerChatID))
		}
	}
	notifier := data.NewMultiNotifier(targets...)

	deps := api.Deps{Store: repos.ChatStore, Feed: feed, Metrics: m}
	parts, err := buildRelay(ctx, repos, notifier, m)
	if err != nil {
		logger.Error("Relay subsystem disabled", zap.Error(err))
		deps.RelayError = err
	} else {
		deps.Relay = parts.relay
		deps.Sender = parts.relay
		deps.Sessions = parts.sessions
	}

	var jobs []service.Job
	if retention := cfg.Store.Retention(); retention > 0 {
		jobs = append(jobs, service.PruneJob(cfg.Housekeeping.PruneCron, repos.ChatStore, retention, logger.Named("housekeeping")))
	}
	if parts != nil {
		jobs = append(jobs, service.SnapshotJob(cfg.Housekeeping.SnapshotCron, parts.relay))
	}
	housekeeping := service.NewHousekeeping(logger.Named("housekeeping"), jobs...)

	apiServer := api.NewServer(deps, cfg.APIPort, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(apiServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiServer.Stop(shutdownCtx)
	})

	if parts != nil {
		g.Go(func() error {
			parts.relay.Start(gctx)
			<-gctx.Done()
			parts.relay.Stop()
			return nil
		})
	}

	g.Go(func() error {
		housekeeping.Start()
		<-gctx.Done()
		housekeeping.Stop()
		return nil
	})

	if feishuClient != nil {
		if parts != nil {
			srv := server.NewFeishuServer(feishuClient, parts.relay, cfg.Feishu.OwnerChatID, logger.Named("feishu"))
			g.Go(func() error {
				// the chat surface is optional; losing it does not stop the daemon
				if err := srv.Start(gctx); err != nil {
					logger.Error("Feishu surface stopped", zap.Error(err))
				}
				return nil
			})
		} else {
			logger.Warn("Feishu surface not started: relay is down")
		}
	}

	logger.Info("Relay daemon started",
		zap.String("version", version),
		zap.Int("api_port", cfg.APIPort),
		zap.Bool("relay", parts != nil),
		zap.Bool("feishu", feishuClient != nil))

	err = g.Wait()
	logger.Info("Relay daemon stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRelay wires the relay subsystem; any error leaves it disabled
func buildRelay(ctx context.Context, repos *data.Repositories, notifier repo.NotifierRepo, m *metrics.Metrics) (*relayParts, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wa := whatsapp.NewClient(whatsapp.Config{
		URL:        cfg.WhatsApp.URL,
		ProfileDir: cfg.WhatsApp.ProfileDir,
		BrowserBin: cfg.WhatsApp.BrowserBin,
		Headless:   cfg.WhatsApp.Headless,
	}, logger.Named("whatsapp"))
	if err := wa.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start connector: %w", err)
	}

	session := usecase.NewConnectorSession(data.NewConnectorRepo(wa))
	contexts := usecase.NewContextStore(cfg.ToContextConfig())
	sessions := usecase.NewSessionStore()

	dispatcher := usecase.NewDispatcher(session, repos.ChatStore, cfg.Send.ToRetryPolicy(), logger.Named("dispatcher"), m)
	decision := usecase.NewDecisionUsecase(repos.Completion, repos.ChatStore, notifier, contexts, sessions, dispatcher,
		cfg.ToDecisionPrompts(), logger.Named("decision"), m)
	resolver := usecase.NewResolver(cfg.ToResolverConfig(), repos.Completion, repos.ChatStore, contexts, sessions, dispatcher,
		logger.Named("resolver"), m)

	detector := service.NewDetector(service.DetectorConfig{
		MaxConversations: cfg.Poll.MaxConversations,
		ReadLimit:        cfg.Poll.ReadLimit,
		RecoverAfter:     cfg.Poll.RecoverAfter,
	}, session, repos.ChatStore, contexts, logger.Named("detector"), m)

	relay := service.NewRelayService(detector, decision, resolver, session, repos.Fingerprint, cfg.Poll.Interval, logger.Named("relay"))

	return &relayParts{relay: relay, sessions: sessions}, nil
}
