package booking

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// MaxPassengers is the portal's per-ticket passenger limit.
const MaxPassengers = 6

var (
	ErrInvalidRequest = errors.New("invalid booking request")

	trainNumberPattern = regexp.MustCompile(`^\d{5}$`)
	upiPattern         = regexp.MustCompile(`^[\w.\-]+@[\w\-]+$`)

	validGateways = []string{"", "GOOGLEPAY", "PHONEPE", "PAYTM", "BHIM"}
	validBerths   = []Berth{BerthNone, BerthLower, BerthMiddle, BerthUpper, BerthSideUpper, BerthSideLower}
	validGenders  = []Gender{GenderMale, GenderFemale, GenderTransgender}
)

// Validate returns every problem found, joined and wrapped in ErrInvalidRequest.
func (r Request) Validate() error {
	var errs []error
	errs = append(errs, r.Journey.validate()...)

	if len(r.Passengers) == 0 {
		errs = append(errs, errors.New("at least one passenger is required"))
	}
	if len(r.Passengers) > MaxPassengers {
		errs = append(errs, fmt.Errorf("maximum %d passengers allowed per booking", MaxPassengers))
	}
	for i, p := range r.Passengers {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("passenger %d: %w", i+1, err))
		}
	}

	if strings.TrimSpace(r.CredentialRef) == "" {
		errs = append(errs, errors.New("credential_ref is required"))
	}
	errs = append(errs, r.Payment.validate()...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
}

func (j Journey) validate() []error {
	var errs []error
	origin := strings.TrimSpace(j.Origin)
	dest := strings.TrimSpace(j.Destination)
	if origin == "" {
		errs = append(errs, errors.New("origin is required"))
	}
	if dest == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if origin != "" && strings.EqualFold(origin, dest) {
		errs = append(errs, errors.New("origin and destination can not be the same"))
	}
	if j.Date.IsZero() {
		errs = append(errs, errors.New("journey date is required"))
	}
	if !slices.Contains(validClasses, j.Class) {
		errs = append(errs, fmt.Errorf("invalid travel class %q", j.Class))
	}
	if j.TrainNumber != "" && !trainNumberPattern.MatchString(j.TrainNumber) {
		errs = append(errs, errors.New("train number must be 5 digits"))
	}
	return errs
}

// Validate checks a single passenger record.
func (p Passenger) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Age < 1 || p.Age > 125 {
		errs = append(errs, fmt.Errorf("age %d out of range", p.Age))
	}
	if !slices.Contains(validGenders, p.Gender) {
		errs = append(errs, fmt.Errorf("invalid gender %q", p.Gender))
	}
	if !slices.Contains(validBerths, p.Berth) {
		errs = append(errs, fmt.Errorf("invalid berth preference %q", p.Berth))
	}
	return errors.Join(errs...)
}

func (p Payment) validate() []error {
	var errs []error
	switch strings.ToUpper(p.Method) {
	case "", "UPI":
	default:
		errs = append(errs, fmt.Errorf("unsupported payment method %q", p.Method))
	}
	if !slices.Contains(validGateways, strings.ToUpper(p.Gateway)) {
		errs = append(errs, fmt.Errorf("unsupported UPI gateway %q", p.Gateway))
	}
	if p.UPIID != "" && !upiPattern.MatchString(p.UPIID) {
		errs = append(errs, errors.New("invalid UPI id"))
	}
	return errs
}
