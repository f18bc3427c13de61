package browser

import (
	"errors"
	"strings"
	"time"
)

// Selectors locate portal elements. Entries containing %d are formatted
// with the passenger index, %s with a train number or gateway code.
type Selectors struct {
	LoginLink      string `yaml:"login_link"`
	UserID         string `yaml:"user_id"`
	Password       string `yaml:"password"`
	SignIn         string `yaml:"sign_in"`
	LoggedIn       string `yaml:"logged_in"`
	ErrorBanner    string `yaml:"error_banner"`
	Origin         string `yaml:"origin"`
	Destination    string `yaml:"destination"`
	JourneyDate    string `yaml:"journey_date"`
	JourneyClass   string `yaml:"journey_class"`
	JourneyQuota   string `yaml:"journey_quota"`
	SearchButton   string `yaml:"search_button"`
	TrainList      string `yaml:"train_list"`
	TrainByNumber  string `yaml:"train_by_number"`
	BookNow        string `yaml:"book_now"`
	PassengerForm  string `yaml:"passenger_form"`
	PassengerName  string `yaml:"passenger_name"`
	PassengerAge   string `yaml:"passenger_age"`
	PassengerSex   string `yaml:"passenger_gender"`
	PassengerBerth string `yaml:"passenger_berth"`
	AutoUpgrade    string `yaml:"auto_upgrade"`
	Insurance      string `yaml:"travel_insurance"`
	CaptchaImage   string `yaml:"captcha_image"`
	CaptchaInput   string `yaml:"captcha_input"`
	ReviewBooking  string `yaml:"review_booking"`
	OTPModal       string `yaml:"otp_modal"`
	OTPInput       string `yaml:"otp_input"`
	OTPContinue    string `yaml:"otp_continue"`
	PaymentOptions string `yaml:"payment_options"`
	PaymentUPI     string `yaml:"payment_upi"`
	Gateway        string `yaml:"gateway"`
	UPIID          string `yaml:"upi_id"`
	MakePayment    string `yaml:"make_payment"`
	PNRDetails     string `yaml:"pnr_details"`
	PNRNumber      string `yaml:"pnr_number"`
	BookingFailed  string `yaml:"booking_failed"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		LoginLink:      "text=LOGIN",
		UserID:         "#userId",
		Password:       "#pwd",
		SignIn:         "#loginBtnId",
		LoggedIn:       "text=logout",
		ErrorBanner:    ".error-banner, .ui-toast-message",
		Origin:         "#origin",
		Destination:    "#destination",
		JourneyDate:    "#jDate input",
		JourneyClass:   "#journeyClass",
		JourneyQuota:   "#journeyQuota",
		SearchButton:   "#searchBtn",
		TrainList:      ".train-list",
		TrainByNumber:  ".train-list :text('%s') >> xpath=ancestor::*[contains(@class,'train')][1] >> .book-now-btn",
		BookNow:        ".train-list .book-now-btn",
		PassengerForm:  "#passenger-details",
		PassengerName:  "#passengerName_%d",
		PassengerAge:   "#passengerAge_%d",
		PassengerSex:   "#passengerGender_%d",
		PassengerBerth: "#passengerBerth_%d",
		AutoUpgrade:    "#autoUpgradation",
		Insurance:      "#travelInsurance",
		CaptchaImage:   "#captcha-img",
		CaptchaInput:   "#captcha-input",
		ReviewBooking:  "#reviewBooking",
		OTPModal:       "#otpModal",
		OTPInput:       "#otpLoginId",
		OTPContinue:    "#continueBtn",
		PaymentOptions: "#payment-options",
		PaymentUPI:     "input[value='UP']",
		Gateway:        "input[value='%s']",
		UPIID:          "#upiId",
		MakePayment:    "#makePayment",
		PNRDetails:     "#pnr-details",
		PNRNumber:      "#pnr-number",
		BookingFailed:  ".booking-failed",
	}
}

type Config struct {
	BaseURL    string `yaml:"base_url"`
	SearchPath string `yaml:"search_path"`
	// ConfirmationURL is the glob the portal returns to after payment.
	ConfirmationURL string `yaml:"confirmation_url"`

	Headless  bool          `yaml:"headless"`
	SlowMo    time.Duration `yaml:"slow_mo"`
	UserAgent string        `yaml:"user_agent"`
	Args      []string      `yaml:"args"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	// ProbeTimeout is how long optional elements (captcha, OTP modal) are
	// looked for before the stage is skipped.
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	PaymentTimeout time.Duration `yaml:"payment_timeout"`

	Selectors Selectors `yaml:"selectors"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://www.irctc.co.in",
		SearchPath:        "/nget/train-search",
		ConfirmationURL:   "**/booking/confirmation**",
		Headless:          true,
		SlowMo:            100 * time.Millisecond,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Args:              []string{"--no-sandbox", "--disable-gpu", "--no-first-run", "--disable-extensions"},
		NavigationTimeout: 30 * time.Second,
		ActionTimeout:     10 * time.Second,
		ProbeTimeout:      2 * time.Second,
		PaymentTimeout:    3 * time.Minute,
		Selectors:         DefaultSelectors(),
	}
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return errors.New("browser.base_url must be an http(s) URL")
	}
	if c.NavigationTimeout <= 0 || c.ActionTimeout <= 0 || c.ProbeTimeout <= 0 || c.PaymentTimeout <= 0 {
		return errors.New("browser timeouts must be positive")
	}
	return nil
}
