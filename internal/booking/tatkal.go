package booking

import (
	"fmt"
	"time"
)

// OpeningTime returns the instant the Tatkal quota opens for a journey: the
// day before departure at acOpen for AC classes and nonACOpen otherwise.
// Both clock strings are "HH:MM" in loc.
func OpeningTime(journeyDate time.Time, class TravelClass, acOpen, nonACOpen string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	hhmm := nonACOpen
	if class.IsAC() {
		hhmm = acOpen
	}
	day := time.Date(journeyDate.Year(), journeyDate.Month(), journeyDate.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	at, err := time.ParseInLocation("2006-01-02 15:04", day.Format("2006-01-02")+" "+hhmm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid opening time %q (want HH:MM): %w", hhmm, err)
	}
	return at, nil
}
