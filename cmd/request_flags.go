package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/booking"
)

// requestFlags describes a booking on the command line, either inline or
// through a saved template.
type requestFlags struct {
	template string
	date     string

	from, to    string
	class       string
	train       string
	passengers  []string
	credential  string
	gateway     string
	upiID       string
	autoUpgrade bool
	insurance   bool
}

func (rf *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rf.template, "template", "", "saved template name")
	cmd.Flags().StringVar(&rf.date, "date", "", "journey date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	rf.bindInline(cmd)
}

// bindInline registers the journey, passenger and payment flags.
func (rf *requestFlags) bindInline(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&rf.from, "from", "", "origin station code")
	f.StringVar(&rf.to, "to", "", "destination station code")
	f.StringVar(&rf.class, "class", "", "travel class (1A, 2A, 3A, SL, CC, 2S, EC)")
	f.StringVar(&rf.train, "train", "", "preferred train number")
	f.StringArrayVar(&rf.passengers, "passenger", nil, `passenger "Name,Age,Gender[,Berth]" (repeatable)`)
	f.StringVar(&rf.credential, "credential", "", "stored portal credential ref")
	f.StringVar(&rf.gateway, "gateway", "", "UPI gateway (GOOGLEPAY, PHONEPE, PAYTM, BHIM)")
	f.StringVar(&rf.upiID, "upi-id", "", "UPI id for the collect request")
	f.BoolVar(&rf.autoUpgrade, "auto-upgrade", false, "accept auto upgradation")
	f.BoolVar(&rf.insurance, "insurance", false, "opt in to travel insurance")
}

// body is the JSON the bookings and schedules endpoints accept.
func (rf *requestFlags) body() (map[string]any, error) {
	if rf.template != "" {
		return map[string]any{"template": rf.template, "date": rf.date}, nil
	}
	req, err := rf.request()
	if err != nil {
		return nil, err
	}
	return map[string]any{"request": req}, nil
}

func (rf *requestFlags) request() (booking.Request, error) {
	date, err := time.Parse("2006-01-02", rf.date)
	if err != nil {
		return booking.Request{}, fmt.Errorf("--date must be YYYY-MM-DD")
	}
	req := booking.Request{
		Journey: booking.Journey{
			Origin:      strings.ToUpper(strings.TrimSpace(rf.from)),
			Destination: strings.ToUpper(strings.TrimSpace(rf.to)),
			Date:        date,
			Class:       booking.TravelClass(strings.ToUpper(rf.class)),
			TrainNumber: rf.train,
		},
		CredentialRef:   rf.credential,
		Payment:         booking.Payment{Method: "UPI", Gateway: strings.ToUpper(rf.gateway), UPIID: rf.upiID},
		AutoUpgrade:     rf.autoUpgrade,
		TravelInsurance: rf.insurance,
	}
	for _, p := range rf.passengers {
		pax, err := parsePassenger(p)
		if err != nil {
			return booking.Request{}, err
		}
		req.Passengers = append(req.Passengers, pax)
	}
	return req, req.Validate()
}

func parsePassenger(s string) (booking.Passenger, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return booking.Passenger{}, errors.New(`passenger must be "Name,Age,Gender[,Berth]"`)
	}
	age, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return booking.Passenger{}, fmt.Errorf("passenger %q: invalid age", parts[0])
	}
	p := booking.Passenger{
		Name:   strings.TrimSpace(parts[0]),
		Age:    age,
		Gender: booking.Gender(strings.ToUpper(strings.TrimSpace(parts[2]))),
	}
	if len(parts) == 4 {
		p.Berth = booking.Berth(strings.ToUpper(strings.TrimSpace(parts[3])))
	}
	return p, p.Validate()
}
