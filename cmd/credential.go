package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/credentials"
	"github.com/example/tatkal-scheduler/internal/db"
)

func newCredentialCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage sealed portal logins",
	}
	cmd.AddCommand(newCredentialSetCmd(rf), newCredentialListCmd(rf), newCredentialDeleteCmd(rf))
	return cmd
}

// withCredentials opens the credential store with the configured key.
func withCredentials(cmd *cobra.Command, rf *rootFlags, fn func(s *credentials.Store) error) error {
	cfg, err := rf.load()
	if err != nil {
		return err
	}
	if len(cfg.Security.CredEnc) == 0 {
		return errors.New("CRED_ENC_KEY required (base64)")
	}
	aead, err := credentials.NewAEAD(cfg.Security.CredEnc)
	if err != nil {
		return err
	}
	return withDB(cmd.Context(), cfg, func(d *db.DB) error {
		return fn(&credentials.Store{DB: d, AEAD: aead})
	})
}

func newCredentialSetCmd(rf *rootFlags) *cobra.Command {
	var ref, username string
	c := &cobra.Command{
		Use:   "set",
		Short: "Store a portal login (password from TATKAL_PORTAL_PASSWORD or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := []byte(os.Getenv("TATKAL_PORTAL_PASSWORD"))
			if len(pw) == 0 {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadBytes('\n')
				if err != nil && len(line) == 0 {
					return errors.New("password required on stdin")
				}
				pw = bytes.TrimRight(line, "\r\n")
			}
			defer clear(pw)
			return withCredentials(cmd, rf, func(s *credentials.Store) error {
				if err := s.Put(cmd.Context(), ref, username, pw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored credential %q\n", ref)
				return nil
			})
		},
	}
	c.Flags().StringVar(&ref, "ref", "", "credential handle referenced by bookings")
	c.Flags().StringVar(&username, "username", "", "portal username")
	_ = c.MarkFlagRequired("ref")
	_ = c.MarkFlagRequired("username")
	return c
}

func newCredentialListCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credential handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, rf, func(s *credentials.Store) error {
				refs, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "REF\tUSERNAME\tUPDATED")
				for _, r := range refs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Ref, r.Username, r.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newCredentialDeleteCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, rf, func(s *credentials.Store) error {
				return s.Delete(cmd.Context(), args[0])
			})
		},
	}
}
