package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathakanu/pillLens/internal/api"
	"github.com/pathakanu/pillLens/internal/bot"
	"github.com/pathakanu/pillLens/internal/config"
	"github.com/pathakanu/pillLens/internal/events"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/pathakanu/pillLens/internal/monitor"
	"github.com/pathakanu/pillLens/internal/notify"
	myopenai "github.com/pathakanu/pillLens/internal/openai"
	"github.com/pathakanu/pillLens/internal/twilio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveMonitorUsers []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WhatsApp webhook, monitors and alerting",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveMonitorUsers, "monitor", nil, "User ids to start monitoring at boot (profile timezone is used)")
}

func runServe(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(metrics.New(reg))
	if err != nil {
		return err
	}
	defer a.Close()

	registry, err := monitor.NewRegistry(a.service, a.cfg.MonitorInterval, a.metrics, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	twilioClient := twilio.New(a.cfg.TwilioAccountSID, a.cfg.TwilioAuthToken, a.cfg.TwilioWhatsAppNumber, a.logger)
	senders := buildSenders(ctx, a.cfg, twilioClient, a.logger)
	alerter := notify.NewAlerter(a.service, a.store, senders, a.metrics, a.logger)
	alerts := alerter.Start(ctx, a.bus)

	// the alerter is subscribed, so the first checks' updates are not lost
	if err := startMonitors(registry, serveMonitorUsers); err != nil {
		<-registry.StopAll().Done()
		cancel()
		<-alerts
		return err
	}

	chatbot := bot.New(a.service, a.store, myopenai.New(a.cfg.OpenAIAPIKey), a.logger)

	router := api.NewRouter(api.Deps{
		Doses:    a.service,
		Monitors: registry,
		Hub:      events.NewHub(a.bus, a.logger),
		Webhook:  chatbot.Handler(),
		Gatherer: reg,
		Logger:   a.logger,
	})

	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.Strings("alert_channels", alerter.Channels()),
			zap.Duration("monitor_interval", a.cfg.MonitorInterval))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	err = waitForShutdown(server, registry, cancel, errc, a.logger)
	<-alerts
	return err
}

func startMonitors(registry *monitor.Registry, userIDs []string) error {
	for _, userID := range userIDs {
		if err := registry.Start(userID, ""); err != nil {
			return err
		}
	}
	return nil
}

// buildSenders returns one guarded sender per configured channel.
func buildSenders(ctx context.Context, cfg *config.Config, wa *twilio.Client, logger *zap.Logger) []notify.Sender {
	guard := notify.DefaultGuardConfig()
	guard.PerMinute = cfg.NotifyPerMinute
	guard.Burst = cfg.NotifyBurst

	var senders []notify.Sender
	if cfg.TwilioEnabled() && wa.Enabled() {
		senders = append(senders, notify.Guard(notify.NewWhatsAppSender(wa), guard, logger))
	}
	if cfg.FirebaseCredentialsPath != "" {
		push, err := notify.NewFirebasePushSender(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			logger.Warn("push notifications disabled", zap.Error(err))
		} else {
			senders = append(senders, notify.Guard(push, guard, logger))
		}
	}
	if cfg.SMTPEnabled() {
		email := notify.NewSMTPEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		senders = append(senders, notify.Guard(email, guard, logger))
	}
	return senders
}

func waitForShutdown(server *http.Server, registry *monitor.Registry, stopAlerts context.CancelFunc, errc <-chan error, logger *zap.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var serveErr error
	select {
	case <-stop:
	case serveErr = <-errc:
		if serveErr != nil {
			logger.Error("server error", zap.Error(serveErr))
		}
	}
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	select {
	case <-registry.StopAll().Done():
	case <-ctx.Done():
		logger.Warn("monitors did not stop in time")
	}
	stopAlerts()
	return serveErr
}
