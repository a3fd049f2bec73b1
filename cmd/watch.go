package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/inboxtriage/internal/gmail"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/server"
	"github.com/teemow/inboxtriage/internal/triage"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

func newWatchCmd() *cobra.Command {
	var (
		since       string
		interval    time.Duration
		metricsAddr string
		noMetrics   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reclassify threads as new mail arrives",
		Long: `Polls the Gmail history for new messages and reclassifies their threads.
Several messages arriving in one thread between polls are handled once,
for the newest of them.

Metrics and health endpoints are served on --metrics-addr unless
--no-metrics is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cmd.SetContext(ctx)

			return withApp(appOptions{instrument: !noMetrics}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				if interval > 0 {
					a.cfg.Watch.PollInterval = interval
				}
				if metricsAddr != "" {
					a.cfg.Instrumentation.MetricsAddr = metricsAddr
				}
				return a.watch(ctx, since, !noMetrics)
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "History id to start from (default: now)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default from config, 30s)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics server address (default from config, 127.0.0.1:9464)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Do not serve metrics and health endpoints")
	return cmd
}

func (a *app) watch(ctx context.Context, since string, serveMetrics bool) error {
	client, err := a.gmailClient(ctx)
	if err != nil {
		return err
	}
	r, err := a.reclassifier(ctx, client)
	if err != nil {
		return err
	}

	health := server.NewHealthChecker(3 * a.cfg.Watch.PollInterval)
	if serveMetrics && a.cfg.Instrumentation.MetricsExporter == instrumentation.ExporterPrometheus {
		if err := a.startMetricsServer(health); err != nil {
			return err
		}
	}

	var historyID uint64
	if since != "" {
		if historyID, err = gmail.ParseHistoryID(since); err != nil {
			return err
		}
	} else if historyID, err = client.CurrentHistoryID(ctx); err != nil {
		return err
	}

	w := &watcher{
		client:  client,
		handler: r,
		health:  health,
		limit:   a.cfg.Labels.Concurrency,
		logger:  logging.WithComponent(a.logger, "watch"),
	}
	a.logger.Info("watching for new mail",
		slog.Uint64("history_id", historyID),
		slog.Duration("interval", a.cfg.Watch.PollInterval))
	return w.run(ctx, historyID, a.cfg.Watch.PollInterval)
}

func (a *app) startMetricsServer(health *server.HealthChecker) error {
	ms, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    a.cfg.Instrumentation.MetricsAddr,
		InstrumentationProvider: a.instr,
		Health:                  health,
		Logger:                  a.logger,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := ms.Start(); err != nil {
			a.logger.Error("metrics server stopped", logging.Err(err))
		}
	}()
	a.onClose(ms.Shutdown)
	return nil
}

// inboxSource lists new mail.
type inboxSource interface {
	InboundSince(ctx context.Context, historyID uint64) ([]gmail.Inbound, uint64, error)
	CurrentHistoryID(ctx context.Context) (uint64, error)
}

// inboundHandler processes one new message.
type inboundHandler interface {
	HandleInbound(ctx context.Context, ev triage.Event) (triage.Report, error)
}

type watcher struct {
	client  inboxSource
	handler inboundHandler
	health  *server.HealthChecker
	limit   int
	logger  *slog.Logger
}

// run polls until ctx is done.
func (w *watcher) run(ctx context.Context, historyID uint64, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := w.poll(ctx, historyID)
		w.health.MarkPoll(err)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("poll failed", logging.Err(err), slog.String("kind", triageerr.Kind(err)))
		}
		historyID = next

		select {
		case <-ctx.Done():
			w.logger.Info("stopped watching")
			return nil
		case <-ticker.C:
		}
	}
}

// poll handles the mail that arrived after historyID and returns the
// history id to continue from.
func (w *watcher) poll(ctx context.Context, historyID uint64) (uint64, error) {
	inbound, next, err := w.client.InboundSince(ctx, historyID)
	if errors.Is(err, gmail.ErrHistoryExpired) {
		w.logger.Warn("history id expired, restarting from now; mail received in between is not reclassified",
			slog.Uint64("history_id", historyID))
		current, cerr := w.client.CurrentHistoryID(ctx)
		if cerr != nil {
			return historyID, cerr
		}
		return current, nil
	}
	if err != nil {
		return historyID, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)
	for _, ev := range newestPerThread(inbound) {
		g.Go(func() error {
			report, err := w.handler.HandleInbound(gctx, ev)
			if err != nil && !errors.Is(err, triageerr.ErrBusy) {
				w.logger.Warn("reclassification failed",
					logging.Thread(ev.ThreadID), logging.Message(ev.MessageID),
					slog.String("outcome", report.Outcome), logging.Err(err))
			}
			// One failed thread does not stop the others.
			return nil
		})
	}
	_ = g.Wait()
	return next, nil
}

// newestPerThread keeps the last inbound message of every thread, in the
// order threads first appear.
func newestPerThread(inbound []gmail.Inbound) []triage.Event {
	index := make(map[string]int)
	var events []triage.Event
	for _, in := range inbound {
		if i, ok := index[in.ThreadID]; ok {
			events[i].MessageID = in.MessageID
			continue
		}
		index[in.ThreadID] = len(events)
		events = append(events, triage.Event{ThreadID: in.ThreadID, MessageID: in.MessageID})
	}
	return events
}
