package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jgulick48/hab-cloud-bridge/internal/lynkco"
)

var lynkcoCmd = &cobra.Command{
	Use:   "lynkco",
	Short: "Manage the Lynk & Co login",
	Long: `Log in to Lynk & Co without storing a password.

Run "lynkco login-url", open the printed URL in a browser and sign in
including the verification code. The browser ends on an msauth:// URL;
pass it to "lynkco redirect" to store the tokens for the bridge.`,
}

var lynkcoLoginURLCmd = &cobra.Command{
	Use:   "login-url",
	Short: "Print the browser login URL and remember its code verifier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := lynkcoBridge()
		if err != nil {
			return err
		}
		loginURL, err := b.StartManualLogin()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), loginURL)
		return nil
	},
}

var lynkcoRedirectCmd = &cobra.Command{
	Use:   "redirect <msauth-url>",
	Short: "Complete the browser login with the final redirect URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := lynkcoBridge()
		if err != nil {
			return err
		}
		if err := b.CompleteRedirect(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Tokens stored, the bridge will use them on the next start.")
		return nil
	},
}

func init() {
	lynkcoCmd.AddCommand(lynkcoLoginURLCmd, lynkcoRedirectCmd)
}

func lynkcoBridge() (*lynkco.Bridge, error) {
	runtime, err := loadRuntime(newLogger(debug))
	if err != nil {
		return nil, err
	}
	if runtime.Lynkco() == nil {
		return nil, errors.New("no lynkco section in the config file")
	}
	return runtime.Lynkco(), nil
}
