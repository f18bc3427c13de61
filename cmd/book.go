package cmd

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newBookCmd() *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Start, schedule, cancel or inspect booking attempts on a running server",
	}
	cf.bind(cmd)
	cmd.AddCommand(newBookNowCmd(&cf))
	cmd.AddCommand(newBookScheduleCmd(&cf))
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			var out map[string]bool
			if err := c.do(cmd.Context(), http.MethodPost, "/api/attempt/cancel", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current attempt, clock offset and schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			var out map[string]any
			if err := c.do(cmd.Context(), http.MethodGet, "/api/status", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}

func newBookNowCmd(cf *clientFlags) *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "now",
		Short: "Start a booking attempt immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := rf.body()
			if err != nil {
				return err
			}
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			var out map[string]string
			if err := c.do(cmd.Context(), http.MethodPost, "/api/bookings", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	rf.bind(cmd)
	return cmd
}

func newBookScheduleCmd(cf *clientFlags) *cobra.Command {
	var (
		rf   requestFlags
		at   string
		lead time.Duration
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Arm a booking for the Tatkal opening (or --at)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := rf.body()
			if err != nil {
				return err
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return err
				}
				body["at"] = t
			}
			if lead > 0 {
				body["lead"] = lead.String()
			}
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			var out map[string]any
			if err := c.do(cmd.Context(), http.MethodPost, "/api/schedules", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVar(&at, "at", "", "target instant (RFC3339); defaults to the Tatkal opening time")
	cmd.Flags().DurationVar(&lead, "lead", 0, "fire this long before the target (server default when unset)")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "List or cancel armed schedules",
	}
	cf.bind(cmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			var out []map[string]any
			if err := c.do(cmd.Context(), http.MethodGet, "/api/schedules", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Disarm a schedule that has not fired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodDelete, "/api/schedules/"+args[0], nil, nil)
		},
	})
	return cmd
}

func newCheckpointCmd() *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Answer captcha, OTP and payment checkpoints",
	}
	cf.bind(cmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "submit <id> <value>",
		Short: "Submit the answer for a pending checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/api/checkpoints/"+args[0], map[string]string{"value": args[1]}, nil)
		},
	})
	return cmd
}
