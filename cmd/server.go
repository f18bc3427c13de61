package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/example/tatkal-scheduler/internal/auth"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/clock"
	"github.com/example/tatkal-scheduler/internal/config"
	"github.com/example/tatkal-scheduler/internal/credentials"
	"github.com/example/tatkal-scheduler/internal/db"
	"github.com/example/tatkal-scheduler/internal/driver/browser"
	"github.com/example/tatkal-scheduler/internal/engine"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/history"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/migrate"
	"github.com/example/tatkal-scheduler/internal/notify"
	"github.com/example/tatkal-scheduler/internal/scheduler"
	"github.com/example/tatkal-scheduler/internal/session"
	"github.com/example/tatkal-scheduler/internal/templates"
	"github.com/example/tatkal-scheduler/internal/web"
)

func newServerCmd(rf *rootFlags) *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the clock synchronizer, the scheduler and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			if err := cfg.RequireSecrets(); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServer(ctx, cfg, migrateUp)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func clockSources(cfg config.ClockConfig) []clock.Source {
	var out []clock.Source
	for _, host := range cfg.NTPServers {
		out = append(out, clock.NTPSource{Host: host, Timeout: cfg.QueryTimeout})
	}
	for _, u := range cfg.HTTPDateURLs {
		out = append(out, clock.HTTPDateSource{URL: u, Client: &http.Client{Timeout: cfg.QueryTimeout}})
	}
	return out
}

func runServer(ctx context.Context, cfg *config.Config, migrateUp bool) error {
	logger := log.WithComponent("server")

	d, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if migrateUp {
		if _, err := migrate.Up(ctx, d); err != nil {
			return err
		}
	}

	gdb, err := history.Open(cfg.Database.HistoryDSN)
	if err != nil {
		return err
	}
	hist := history.NewGormStore(gdb)

	aead, err := credentials.NewAEAD(cfg.Security.CredEnc)
	if err != nil {
		return err
	}
	creds := &credentials.Store{DB: d, AEAD: aead}
	authStore := auth.NewStore(d, cfg.Security.CookieHash, cfg.Security.CookieBlock)

	clk := clock.New(clock.Options{
		Sources:          clockSources(cfg.Clock),
		QueryTimeout:     cfg.Clock.QueryTimeout,
		Interval:         cfg.Clock.Interval,
		StaleAfter:       cfg.Clock.StaleAfter,
		MaxAge:           cfg.Clock.MaxAge,
		SamplesPerSource: cfg.Clock.SamplesPerSource,
	})

	hub := events.NewHub(200)
	images := web.NewImages(cfg.Server.CaptchaCacheTTL)
	sink := events.Multi{events.LogSink{Logger: log.WithComponent("events")}, hub, images}

	var pool *notify.Pool
	if cfg.Push.Enabled {
		pool = notify.NewPool(cfg.Push.Workers, hist, &webpush.Options{
			Subscriber:      cfg.Push.Subject,
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			TTL:             cfg.Push.TTL,
			Urgency:         webpush.UrgencyHigh,
		})
		sink = append(sink, pool)
	}

	factory := browser.NewFactory(cfg.Browser)
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Warn().Err(err).Msg("browser shutdown")
		}
	}()

	eng := engine.New(engine.Options{
		Sink:        sink,
		Factory:     factory,
		Credentials: creds,
		Archiver:    hist,
		Session: session.Config{
			Policy: cfg.Retry,
			Budget: cfg.Tatkal.Window,
			CheckpointTimeout: map[checkpoint.Kind]time.Duration{
				checkpoint.KindCaptcha: cfg.Checkpoints.Captcha,
				checkpoint.KindOTP:     cfg.Checkpoints.OTP,
				checkpoint.KindPayment: cfg.Checkpoints.Payment,
			},
		},
	})
	sched := scheduler.New(scheduler.Options{
		Clock:            clk,
		Starter:          eng,
		Sink:             sink,
		ResyncBeforeFire: cfg.Scheduler.ResyncBeforeFire,
		MaxSleep:         cfg.Scheduler.MaxSleep,
		Keep:             cfg.Scheduler.Keep,
	})

	loc, err := cfg.Tatkal.Location()
	if err != nil {
		return err
	}
	srv := web.New(web.Options{
		Engine:         eng,
		Scheduler:      sched,
		Clock:          clk,
		Hub:            hub,
		Images:         images,
		History:        hist,
		Templates:      templates.NewRepo(d),
		Sessions:       authStore,
		Tatkal:         web.Tatkal{ACOpen: cfg.Tatkal.ACOpen, NonACOpen: cfg.Tatkal.NonACOpen, Location: loc},
		DefaultLead:    cfg.Scheduler.DefaultLead,
		RateLimit:      rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst:      cfg.Server.RateLimitBurst,
		VAPIDPublicKey: cfg.Push.PublicKey,
	}).HTTPServer(cfg.Server.Listen)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return clk.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if pool != nil {
		pool.Start(gctx)
	}
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("version", Version).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Close()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if pool != nil {
		pool.Wait()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("stopped")
	return err
}
