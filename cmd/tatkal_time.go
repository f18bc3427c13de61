package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/config"
	"github.com/example/tatkal-scheduler/internal/driver/browser"
)

func newTatkalTimeCmd(rf *rootFlags) *cobra.Command {
	var date, class string
	c := &cobra.Command{
		Use:   "tatkal-time",
		Short: "Print when the Tatkal window opens for a journey",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			at, err := openingTime(cfg.Tatkal, date, class)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", at.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().StringVar(&date, "date", "", "journey date (YYYY-MM-DD)")
	c.Flags().StringVar(&class, "class", "3A", "travel class")
	_ = c.MarkFlagRequired("date")
	return c
}

func openingTime(t config.TatkalConfig, date, class string) (time.Time, error) {
	loc, err := t.Location()
	if err != nil {
		return time.Time{}, err
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD")
	}
	return booking.OpeningTime(d, booking.TravelClass(strings.ToUpper(class)), t.ACOpen, t.NonACOpen, loc)
}

func newInstallBrowserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-browser",
		Short: "Download the Chromium build used for booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			return browser.Install()
		},
	}
}
