// Package browser drives the rail portal with Playwright. Each attempt gets
// its own browser context; the browser process is shared and launched on
// the first attempt.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/session"
)

// Factory opens one browser context per attempt.
type Factory struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg, logger: log.WithComponent("browser")}
}

// Install downloads the browser binaries Playwright needs.
func Install() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

func (f *Factory) launch() (playwright.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil && f.browser.IsConnected() {
		return f.browser, nil
	}
	if f.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("could not start playwright: %w", err)
		}
		f.pw = pw
	}
	b, err := f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.cfg.Headless),
		SlowMo:   playwright.Float(ms(f.cfg.SlowMo)),
		Args:     f.cfg.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("could not launch chromium: %w", err)
	}
	f.browser = b
	f.logger.Info().Bool("headless", f.cfg.Headless).Msg("browser launched")
	return b, nil
}

// NewSession implements engine.AutomationFactory.
func (f *Factory) NewSession(ctx context.Context, attemptID string, _ booking.Request) (session.Drivers, io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b, err := f.launch()
	if err != nil {
		return nil, nil, err
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(f.cfg.UserAgent),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, nil, fmt.Errorf("could not open page: %w", err)
	}
	f.logger.Debug().Str("attempt_id", attemptID).Msg("browser context opened")
	return NewDrivers(newPage(page, f.cfg), f.cfg), contextCloser{bctx}, nil
}

type contextCloser struct{ bctx playwright.BrowserContext }

func (c contextCloser) Close() error { return c.bctx.Close() }

// Close shuts the browser and the Playwright driver down.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	if f.browser != nil {
		errs = append(errs, f.browser.Close())
		f.browser = nil
	}
	if f.pw != nil {
		errs = append(errs, f.pw.Stop())
		f.pw = nil
	}
	return errors.Join(errs...)
}
