package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/credentials"
	"github.com/example/tatkal-scheduler/internal/retry"
	"github.com/example/tatkal-scheduler/internal/session"
)

// tatkalQuota is the portal's quota code for Tatkal.
const tatkalQuota = "TQ"

// NewDrivers binds every pipeline stage to page.
func NewDrivers(page Page, cfg Config) session.Drivers {
	s := &stages{page: page, cfg: cfg, sel: cfg.Selectors}
	return session.Drivers{
		session.StageLoggingIn:         session.DriverFunc(s.login),
		session.StageSearchingTrains:   session.DriverFunc(s.search),
		session.StageSelectingBerth:    session.DriverFunc(s.selectTrain),
		session.StageFillingPassengers: session.DriverFunc(s.fillPassengers),
		session.StageAwaitingCaptcha:   captchaStage{s},
		session.StageAwaitingOTP:       otpStage{s},
		session.StageAwaitingPayment:   paymentStage{s},
		session.StageConfirming:        session.DriverFunc(s.confirm),
	}
}

type stages struct {
	page Page
	cfg  Config
	sel  Selectors
}

// banner turns a visible portal error message into a result.
func (s *stages) banner() (session.Result, bool) {
	if s.sel.ErrorBanner == "" || !s.page.Visible(s.sel.ErrorBanner, 0) {
		return session.Result{}, false
	}
	text, err := s.page.Text(s.sel.ErrorBanner)
	if err != nil {
		return session.Result{}, false
	}
	return ClassifyBanner(text)
}

// failed prefers what the portal says over the browser error.
func (s *stages) failed(action string, err error) session.Result {
	if res, ok := s.banner(); ok {
		return res.WithErr(err)
	}
	return ClassifyError(action, err)
}

func (s *stages) login(ctx context.Context, sc *session.StageContext) session.Result {
	if err := s.page.Goto(s.cfg.BaseURL + s.cfg.SearchPath); err != nil {
		return s.failed("opening portal", err)
	}
	if err := s.page.Click(s.sel.LoginLink); err != nil {
		return s.failed("opening login form", err)
	}
	if err := s.page.WaitVisible(s.sel.UserID, s.cfg.ActionTimeout); err != nil {
		return s.failed("waiting for login form", err)
	}

	secret, err := sc.Credentials.Get(ctx, sc.Request.CredentialRef)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return session.Fatal("credential " + sc.Request.CredentialRef + " not found").WithErr(err)
		}
		return session.Retry(retry.Transient, "credential lookup failed").WithErr(err)
	}
	defer secret.Wipe()

	if err := s.page.Fill(s.sel.UserID, secret.Username); err != nil {
		return s.failed("filling user id", err)
	}
	if err := s.page.Fill(s.sel.Password, string(secret.Password())); err != nil {
		return s.failed("filling password", err)
	}
	if err := s.page.Click(s.sel.SignIn); err != nil {
		return s.failed("signing in", err)
	}
	if err := s.page.WaitVisible(s.sel.LoggedIn, s.cfg.NavigationTimeout); err != nil {
		return s.failed("waiting for login", err)
	}
	sc.Logger.Info().Object("credential", secret).Msg("logged in")
	return session.Advance()
}

// station fills an autocomplete field and takes the first suggestion.
func (s *stages) station(selector, code string) error {
	if err := s.page.Fill(selector, code); err != nil {
		return err
	}
	if err := s.page.Press(selector, "ArrowDown"); err != nil {
		return err
	}
	return s.page.Press(selector, "Enter")
}

func (s *stages) search(_ context.Context, sc *session.StageContext) session.Result {
	j := sc.Request.Journey
	if err := s.page.Goto(s.cfg.BaseURL + s.cfg.SearchPath); err != nil {
		return s.failed("opening search", err)
	}
	if err := s.station(s.sel.Origin, j.Origin); err != nil {
		return s.failed("filling origin", err)
	}
	if err := s.station(s.sel.Destination, j.Destination); err != nil {
		return s.failed("filling destination", err)
	}
	if err := s.page.Fill(s.sel.JourneyDate, j.Date.Format("02/01/2006")); err != nil {
		return s.failed("filling journey date", err)
	}
	if err := s.page.Select(s.sel.JourneyClass, string(j.Class)); err != nil {
		return s.failed("selecting class", err)
	}
	if err := s.page.Select(s.sel.JourneyQuota, tatkalQuota); err != nil {
		return s.failed("selecting quota", err)
	}
	if err := s.page.Click(s.sel.SearchButton); err != nil {
		return s.failed("searching", err)
	}
	if err := s.page.WaitVisible(s.sel.TrainList, s.cfg.NavigationTimeout); err != nil {
		return s.failed("waiting for train list", err)
	}
	return session.Advance()
}

func (s *stages) selectTrain(_ context.Context, sc *session.StageContext) session.Result {
	if n := sc.Request.Journey.TrainNumber; n != "" {
		if err := s.page.Click(fmt.Sprintf(s.sel.TrainByNumber, n)); err == nil {
			return session.Advance()
		}
		sc.Logger.Warn().Str("train", n).Msg("preferred train not found, taking first available")
	}
	if err := s.page.Click(s.sel.BookNow); err != nil {
		return s.failed("selecting train", err)
	}
	return session.Advance()
}

func (s *stages) fillPassengers(_ context.Context, sc *session.StageContext) session.Result {
	if err := s.page.WaitVisible(s.sel.PassengerForm, s.cfg.NavigationTimeout); err != nil {
		return s.failed("waiting for passenger form", err)
	}
	for i, p := range sc.Request.Passengers {
		if err := s.page.Fill(fmt.Sprintf(s.sel.PassengerName, i), p.Name); err != nil {
			return s.failed("filling passenger name", err)
		}
		if err := s.page.Fill(fmt.Sprintf(s.sel.PassengerAge, i), strconv.Itoa(p.Age)); err != nil {
			return s.failed("filling passenger age", err)
		}
		if err := s.page.Select(fmt.Sprintf(s.sel.PassengerSex, i), string(p.Gender)); err != nil {
			return s.failed("selecting passenger gender", err)
		}
		if p.Berth != booking.BerthNone {
			if err := s.page.Select(fmt.Sprintf(s.sel.PassengerBerth, i), string(p.Berth)); err != nil {
				return s.failed("selecting berth preference", err)
			}
		}
	}
	if sc.Request.AutoUpgrade {
		if err := s.page.Check(s.sel.AutoUpgrade); err != nil {
			return s.failed("ticking auto upgrade", err)
		}
	}
	if sc.Request.TravelInsurance {
		if err := s.page.Check(s.sel.Insurance); err != nil {
			return s.failed("ticking travel insurance", err)
		}
	}
	return session.Advance()
}

type captchaStage struct{ *stages }

func (c captchaStage) Prepare(_ context.Context, _ *session.StageContext) (session.Prompt, session.Result) {
	if !c.page.Visible(c.sel.CaptchaImage, c.cfg.ProbeTimeout) {
		// No captcha: submit the passenger form straight away.
		if err := c.page.Click(c.sel.ReviewBooking); err != nil {
			return session.Prompt{}, c.failed("submitting passengers", err)
		}
		return session.Prompt{Skip: true}, session.Advance()
	}
	img, err := c.page.Screenshot(c.sel.CaptchaImage)
	if err != nil {
		return session.Prompt{}, c.failed("capturing captcha", err)
	}
	return session.Prompt{Payload: checkpoint.Payload{
		Image:       img,
		ContentType: "image/png",
		Message:     "Type the characters shown in the captcha",
	}}, session.Advance()
}

func (c captchaStage) Execute(_ context.Context, sc *session.StageContext) session.Result {
	if err := c.page.Fill(c.sel.CaptchaInput, strings.TrimSpace(sc.Human)); err != nil {
		return c.failed("filling captcha", err)
	}
	if err := c.page.Click(c.sel.ReviewBooking); err != nil {
		return c.failed("submitting passengers", err)
	}
	if res, ok := c.banner(); ok {
		return res
	}
	return session.Advance()
}

type otpStage struct{ *stages }

func (o otpStage) Prepare(_ context.Context, _ *session.StageContext) (session.Prompt, session.Result) {
	if !o.page.Visible(o.sel.OTPModal, o.cfg.ProbeTimeout) {
		return session.Prompt{Skip: true}, session.Advance()
	}
	return session.Prompt{Payload: checkpoint.Payload{
		Message: "Enter the OTP sent to the registered mobile number",
	}}, session.Advance()
}

func (o otpStage) Execute(_ context.Context, sc *session.StageContext) session.Result {
	if err := o.page.Fill(o.sel.OTPInput, strings.TrimSpace(sc.Human)); err != nil {
		return o.failed("filling OTP", err)
	}
	if err := o.page.Click(o.sel.OTPContinue); err != nil {
		return o.failed("submitting OTP", err)
	}
	if res, ok := o.banner(); ok {
		return res
	}
	return session.Advance()
}

type paymentStage struct{ *stages }

// Prepare selects the payment method and hands off to the gateway. The
// operator approves the payment outside the browser.
func (p paymentStage) Prepare(_ context.Context, sc *session.StageContext) (session.Prompt, session.Result) {
	pay := sc.Request.Payment
	if err := p.page.WaitVisible(p.sel.PaymentOptions, p.cfg.NavigationTimeout); err != nil {
		return session.Prompt{}, p.failed("waiting for payment options", err)
	}
	if strings.EqualFold(pay.Method, "upi") || pay.Method == "" {
		if err := p.page.Click(p.sel.PaymentUPI); err != nil {
			return session.Prompt{}, p.failed("selecting UPI", err)
		}
	}
	if pay.Gateway != "" {
		if err := p.page.Click(fmt.Sprintf(p.sel.Gateway, pay.Gateway)); err != nil {
			return session.Prompt{}, p.failed("selecting gateway", err)
		}
	}
	if pay.UPIID != "" {
		if err := p.page.Fill(p.sel.UPIID, pay.UPIID); err != nil {
			return session.Prompt{}, p.failed("filling UPI id", err)
		}
	}
	if err := p.page.Click(p.sel.MakePayment); err != nil {
		return session.Prompt{}, p.failed("starting payment", err)
	}
	msg := "Approve the payment in your UPI app, then confirm here"
	if pay.UPIID != "" {
		msg = fmt.Sprintf("Approve the collect request sent to %s, then confirm here", pay.UPIID)
	}
	return session.Prompt{Payload: checkpoint.Payload{Message: msg}}, session.Advance()
}

func (p paymentStage) Execute(_ context.Context, sc *session.StageContext) session.Result {
	switch strings.ToLower(strings.TrimSpace(sc.Human)) {
	case "abort", "cancel", "no", "declined":
		return session.Fatal("payment declined by operator")
	}
	if err := p.page.WaitURL(p.cfg.ConfirmationURL, p.cfg.PaymentTimeout); err != nil {
		return session.Fatal("payment not confirmed by portal").WithErr(err)
	}
	return session.Advance()
}

func (s *stages) confirm(_ context.Context, sc *session.StageContext) session.Result {
	if err := s.page.WaitVisible(s.sel.PNRDetails, s.cfg.NavigationTimeout); err != nil {
		if s.page.Visible(s.sel.BookingFailed, 0) {
			text, _ := s.page.Text(s.sel.BookingFailed)
			return session.Fatal("booking failed: " + strings.TrimSpace(text)).WithErr(err)
		}
		return s.failed("waiting for confirmation", err)
	}
	pnr, err := s.page.Text(s.sel.PNRNumber)
	if err != nil {
		return s.failed("reading PNR", err)
	}
	pnr = strings.TrimSpace(pnr)
	if pnr == "" {
		return session.Retry(retry.Transient, "PNR not rendered yet")
	}
	sc.Set(session.ValuePNR, pnr)
	return session.Advance()
}
