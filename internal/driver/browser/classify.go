package browser

import (
	"errors"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/example/tatkal-scheduler/internal/retry"
	"github.com/example/tatkal-scheduler/internal/session"
)

var (
	rateLimitedBanners = []string{"too many requests", "429", "please try after some time", "server is busy"}
	fatalBanners       = []string{"invalid user", "invalid password", "bad credentials", "account is locked", "session expired", "session has expired"}
	transientBanners   = []string{"invalid captcha", "captcha mismatch", "invalid otp", "not yet open", "unable to process"}
)

// ClassifyBanner maps a portal message to a stage result. ok is false when
// the text is not recognised.
func ClassifyBanner(text string) (res session.Result, ok bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return session.Result{}, false
	}
	for _, s := range rateLimitedBanners {
		if strings.Contains(t, s) {
			return session.Retry(retry.RateLimited, text), true
		}
	}
	for _, s := range fatalBanners {
		if strings.Contains(t, s) {
			return session.Fatal(text), true
		}
	}
	for _, s := range transientBanners {
		if strings.Contains(t, s) {
			return session.Retry(retry.Transient, text), true
		}
	}
	return session.Result{}, false
}

// ClassifyError maps a browser error. Timeouts are transient; a closed
// page or browser can not be recovered within the attempt.
func ClassifyError(action string, err error) session.Result {
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return session.Retry(retry.Transient, action+" timed out").WithErr(err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return session.Fatal("browser closed during "+action).WithErr(err)
	default:
		return session.Retry(retry.Transient, action+" failed").WithErr(err)
	}
}
