package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/db"
	"github.com/example/tatkal-scheduler/internal/templates"
)

func newTemplateCmd(rf *rootFlags) *cobra.Command {
	var operatorID int64
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage booking templates for an operator",
	}
	cmd.PersistentFlags().Int64Var(&operatorID, "operator-id", 0, "owning operator id")
	_ = cmd.MarkPersistentFlagRequired("operator-id")

	withRepo := func(cmd *cobra.Command, fn func(r *templates.Repo) error) error {
		cfg, err := rf.load()
		if err != nil {
			return err
		}
		return withDB(cmd.Context(), cfg, func(d *db.DB) error {
			return fn(templates.NewRepo(d))
		})
	}

	var (
		name string
		req  requestFlags
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Save a template (replaces one of the same name)",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Templates carry no date; any valid date satisfies request checks.
			if req.date == "" {
				req.date = "2099-01-01"
			}
			r, err := req.request()
			if err != nil {
				return err
			}
			t := templates.Template{
				OperatorID:      operatorID,
				Name:            name,
				Origin:          r.Journey.Origin,
				Destination:     r.Journey.Destination,
				Class:           r.Journey.Class,
				TrainNumber:     r.Journey.TrainNumber,
				Passengers:      r.Passengers,
				CredentialRef:   r.CredentialRef,
				Payment:         r.Payment,
				AutoUpgrade:     r.AutoUpgrade,
				TravelInsurance: r.TravelInsurance,
			}
			return withRepo(cmd, func(repo *templates.Repo) error {
				id, err := repo.Save(cmd.Context(), t)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved template %q (id %d)\n", name, id)
				return nil
			})
		},
	}
	req.bindInline(add)
	add.Flags().StringVar(&name, "name", "", "template name")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(repo *templates.Repo) error {
				ts, err := repo.ListByOperator(cmd.Context(), operatorID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tROUTE\tCLASS\tTRAIN\tPASSENGERS")
				for _, t := range ts {
					fmt.Fprintf(tw, "%s\t%s-%s\t%s\t%s\t%d\n", t.Name, t.Origin, t.Destination, t.Class, t.TrainNumber, len(t.Passengers))
				}
				return tw.Flush()
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(repo *templates.Repo) error {
				return repo.Delete(cmd.Context(), operatorID, args[0])
			})
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}
