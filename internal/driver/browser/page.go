package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Page is the slice of a browser tab the stage drivers use.
type Page interface {
	Goto(url string) error
	WaitVisible(selector string, timeout time.Duration) error
	// Visible reports whether selector shows up within timeout. A zero
	// timeout checks once.
	Visible(selector string, timeout time.Duration) bool
	Fill(selector, value string) error
	Press(selector, key string) error
	Click(selector string) error
	Select(selector, value string) error
	Check(selector string) error
	Text(selector string) (string, error)
	Screenshot(selector string) ([]byte, error)
	WaitURL(pattern string, timeout time.Duration) error
}

type pwPage struct {
	page   playwright.Page
	nav    time.Duration
	action time.Duration
}

func newPage(p playwright.Page, cfg Config) *pwPage {
	p.SetDefaultTimeout(ms(cfg.ActionTimeout))
	p.SetDefaultNavigationTimeout(ms(cfg.NavigationTimeout))
	return &pwPage{page: p, nav: cfg.NavigationTimeout, action: cfg.ActionTimeout}
}

func ms(d time.Duration) float64 { return float64(d.Milliseconds()) }

func (p *pwPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms(p.nav)),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *pwPage) WaitVisible(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	})
}

func (p *pwPage) Visible(selector string, timeout time.Duration) bool {
	if timeout <= 0 {
		ok, err := p.page.Locator(selector).First().IsVisible()
		return err == nil && ok
	}
	return p.WaitVisible(selector, timeout) == nil
}

func (p *pwPage) Fill(selector, value string) error {
	return p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(ms(p.action)),
	})
}

func (p *pwPage) Press(selector, key string) error {
	return p.page.Locator(selector).First().Press(key, playwright.LocatorPressOptions{
		Timeout: playwright.Float(ms(p.action)),
	})
}

func (p *pwPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(p.action)),
	})
}

func (p *pwPage) Select(selector, value string) error {
	_, err := p.page.Locator(selector).First().SelectOption(
		playwright.SelectOptionValues{Values: playwright.StringSlice(value)},
		playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(ms(p.action))},
	)
	return err
}

func (p *pwPage) Check(selector string) error {
	return p.page.Locator(selector).First().Check(playwright.LocatorCheckOptions{
		Timeout: playwright.Float(ms(p.action)),
	})
}

func (p *pwPage) Text(selector string) (string, error) {
	return p.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(ms(p.action)),
	})
}

func (p *pwPage) Screenshot(selector string) ([]byte, error) {
	return p.page.Locator(selector).First().Screenshot(playwright.LocatorScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: playwright.Float(ms(p.action)),
	})
}

func (p *pwPage) WaitURL(pattern string, timeout time.Duration) error {
	return p.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
}
