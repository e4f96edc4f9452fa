package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tracyhatemice/mailrulez/internal/api"
	"github.com/tracyhatemice/mailrulez/internal/config"
	"github.com/tracyhatemice/mailrulez/internal/history"
	"github.com/tracyhatemice/mailrulez/internal/lists"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/mover"
	"github.com/tracyhatemice/mailrulez/internal/retention"
	"github.com/tracyhatemice/mailrulez/internal/rules"
	"github.com/tracyhatemice/mailrulez/internal/sender"
	"github.com/tracyhatemice/mailrulez/internal/triage"
)

const usage = `usage: mailrulez [flags] <command>

commands:
  run     triage every configured account once (or every -interval)
  serve   start the HTTP API

flags:
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	mode := flag.String("mode", triage.ProcessPrimary, "run mode: primary, maintenance, batch or apply")
	only := flag.String("account", "", "only process the account with this email")
	folder := flag.String("folder", "", "folder to process (defaults to the account folder)")
	interval := flag.Duration("interval", 0, "repeat primary runs on this interval until interrupted")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "run"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("mailrulez starting", "command", command, "accounts", len(cfg.Accounts))

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Force exit on second signal.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	switch command {
	case "run":
		err = a.runAccounts(ctx, runOptions{mode: *mode, account: *only, folder: *folder, interval: *interval})
	case "serve":
		err = a.serve(ctx)
	default:
		flag.Usage()
		a.close()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("mailrulez failed", "error", err)
		a.close()
		os.Exit(1)
	}
	logger.Info("mailrulez stopped")
}

type app struct {
	cfg      *config.Config
	lists    *lists.Store
	engine   *rules.Engine
	pipeline *triage.Pipeline
	history  *history.Store
	closers  []func() error
	once     sync.Once
	logger   *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	ls, err := lists.NewStore(cfg.ListsPath())
	if err != nil {
		return nil, err
	}
	a.lists = ls

	var store rules.Store
	switch cfg.RuleStore {
	case "sqlite":
		sqliteStore, err := rules.OpenSQLiteStore(cfg.RulesPath())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqliteStore.Close)
		store = sqliteStore
	default:
		store = rules.NewFileStore(cfg.RulesPath())
	}

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, hist.Close)
	a.history = hist

	mv := mover.New(cfg.LabelProviders, logger)

	var opts []rules.Option
	if cfg.Sender.Enabled() {
		opts = append(opts, rules.WithForwarder(sender.New(
			cfg.Sender.Host,
			cfg.Sender.Port,
			cfg.Sender.Username,
			cfg.Sender.Password,
			cfg.Sender.UseTLS,
			logger,
		)))
	}
	a.engine = rules.NewEngine(store, ls, mv, logger, opts...)
	a.pipeline = triage.New(cfg, ls, mv, retention.New(logger), logger)
	return a, nil
}

func (a *app) close() {
	a.once.Do(func() {
		for _, c := range a.closers {
			if err := c(); err != nil {
				a.logger.Warn("close failed", "error", err)
			}
		}
	})
}

func (a *app) dialer(acct *config.Account) mailbox.Dialer {
	return mailbox.NewIMAP(acct.Host, acct.Port, acct.GetUsername(), acct.Password, acct.UseTLS, a.logger)
}

func (a *app) record(ctx context.Context, e history.Entry) {
	if _, err := a.history.Record(ctx, e); err != nil {
		a.logger.Warn("failed to record run", "account", e.Account, "mode", e.Mode, "error", err)
	}
}

type runOptions struct {
	mode     string
	account  string
	folder   string
	interval time.Duration
}

// runAccounts processes every selected account concurrently, one
// connection per account.
func (a *app) runAccounts(ctx context.Context, opts runOptions) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for i := range a.cfg.Accounts {
		acct := &a.cfg.Accounts[i]
		if opts.account != "" && !strings.EqualFold(opts.account, acct.Email) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.runAccount(ctx, acct, opts); err != nil {
				a.logger.Error("account run failed", "account", acct.Label(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", acct.Email, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (a *app) runAccount(ctx context.Context, acct *config.Account, opts runOptions) error {
	mb := mailbox.Account{Email: acct.Email, Dialer: a.dialer(acct)}
	folder := opts.folder
	if folder == "" {
		folder = acct.GetFolder()
	}

	if opts.interval > 0 {
		a.pipeline.Watch(ctx, mb, folder, acct.GetLimit(), opts.interval, func(log *triage.DispositionLog) {
			a.record(ctx, history.FromDisposition(log))
		})
		return nil
	}

	switch opts.mode {
	case triage.ProcessPrimary:
		log, err := a.pipeline.RunPrimary(ctx, mb, folder, acct.GetLimit())
		if err != nil {
			return err
		}
		a.record(ctx, history.FromDisposition(log))
	case triage.ProcessMaintenance:
		log, err := a.pipeline.RunMaintenance(ctx, mb, folder, acct.GetMaintenanceLimit())
		if err != nil {
			return err
		}
		a.record(ctx, history.FromDisposition(log))
	case "batch":
		res, err := a.pipeline.RunBatch(ctx, mb, folder, acct.GetLimit())
		if err != nil {
			return err
		}
		a.logger.Info("batch finished", "account", acct.Email, "before", res.Before, "after", res.After)
		a.record(ctx, history.FromDisposition(res.Log))
	case history.ModeApply:
		start := time.Now()
		matched, err := a.engine.Apply(ctx, mb, folder, acct.GetLimit())
		if err != nil {
			return err
		}
		a.record(ctx, history.Entry{
			Mode:       history.ModeApply,
			Account:    acct.Email,
			Folder:     folder,
			StartedAt:  start,
			FinishedAt: time.Now(),
			Matched:    matched,
		})
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           api.New(a.cfg, a.engine, a.pipeline, a.lists, a.history, a.dialer, a.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("http api listening", "addr", a.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down http api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
