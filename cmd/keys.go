package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/notify"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate cookie, credential and VAPID keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range []string{"COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY", "CRED_ENC_KEY"} {
				b := make([]byte, 32)
				if _, err := rand.Read(b); err != nil {
					return err
				}
				fmt.Fprintf(out, "export %s=%s\n", name, base64.StdEncoding.EncodeToString(b))
			}
			priv, pub, err := notify.GenerateKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "export VAPID_PUBLIC_KEY=%s\n", pub)
			fmt.Fprintf(out, "export VAPID_PRIVATE_KEY=%s\n", priv)
			return nil
		},
	}
}
