// Package booking holds the journey and passenger data that a booking attempt
// carries from admission to its terminal state.
package booking

import (
	"fmt"
	"strings"
	"time"
)

type TravelClass string

const (
	ClassFirstAC     TravelClass = "1A"
	ClassSecondAC    TravelClass = "2A"
	ClassThirdAC     TravelClass = "3A"
	ClassSleeper     TravelClass = "SL"
	ClassChairCar    TravelClass = "CC"
	ClassSecondSeat  TravelClass = "2S"
	ClassExecutiveCC TravelClass = "EC"
)

var validClasses = []TravelClass{
	ClassFirstAC, ClassSecondAC, ClassThirdAC, ClassSleeper, ClassChairCar, ClassSecondSeat, ClassExecutiveCC,
}

// IsAC reports whether the class opens in the AC Tatkal slot.
func (c TravelClass) IsAC() bool {
	switch c {
	case ClassFirstAC, ClassSecondAC, ClassThirdAC, ClassChairCar, ClassExecutiveCC:
		return true
	}
	return false
}

type Gender string

const (
	GenderMale        Gender = "M"
	GenderFemale      Gender = "F"
	GenderTransgender Gender = "T"
)

type Berth string

const (
	BerthNone      Berth = ""
	BerthLower     Berth = "LB"
	BerthMiddle    Berth = "MB"
	BerthUpper     Berth = "UB"
	BerthSideUpper Berth = "SU"
	BerthSideLower Berth = "SL"
)

type Passenger struct {
	Name   string `json:"name" yaml:"name"`
	Age    int    `json:"age" yaml:"age"`
	Gender Gender `json:"gender" yaml:"gender"`
	Berth  Berth  `json:"berth,omitempty" yaml:"berth,omitempty"`
}

type Journey struct {
	Origin      string      `json:"origin"`
	Destination string      `json:"destination"`
	Date        time.Time   `json:"date"`
	Class       TravelClass `json:"class"`
	TrainNumber string      `json:"train_number,omitempty"`
}

type Payment struct {
	Method  string `json:"method"`
	Gateway string `json:"gateway,omitempty"`
	UPIID   string `json:"upi_id,omitempty"`
}

// Request is a single booking order. It is copied on admission and never
// mutated by the attempt that runs it.
type Request struct {
	Journey       Journey     `json:"journey"`
	Passengers    []Passenger `json:"passengers"`
	CredentialRef string      `json:"credential_ref"`
	Payment       Payment     `json:"payment"`

	AutoUpgrade     bool `json:"auto_upgrade,omitempty"`
	TravelInsurance bool `json:"travel_insurance,omitempty"`
}

// Clone returns a deep copy so the caller's slice can not alias the
// admitted request.
func (r Request) Clone() Request {
	out := r
	out.Passengers = append([]Passenger(nil), r.Passengers...)
	return out
}

// Summary is a loggable, secret-free description of the request.
func (r Request) Summary() string {
	train := r.Journey.TrainNumber
	if train == "" {
		train = "any"
	}
	return fmt.Sprintf("%s -> %s on %s class=%s train=%s pax=%d",
		strings.TrimSpace(r.Journey.Origin), strings.TrimSpace(r.Journey.Destination),
		r.Journey.Date.Format("2006-01-02"), r.Journey.Class, train, len(r.Passengers))
}
