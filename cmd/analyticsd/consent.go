package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aicoder88/roigpt-sub000/internal/app"
	"github.com/aicoder88/roigpt-sub000/internal/consent"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Inspect or change the stored consent decision",
	Long: `Reads or writes the consent decision in the configured storage backend.

Available subcommands:
  get     - Print granted, declined or unknown
  grant   - Record an explicit grant
  decline - Record an explicit decline
  clear   - Remove the decision so the user is asked again`,
}

var consentGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored consent decision",
	Args:  cobra.NoArgs,
	RunE:  withConsent(nil),
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Record that the user granted analytics consent",
	Args:  cobra.NoArgs,
	RunE: withConsent(func(cmd *cobra.Command, store *consent.Store) {
		store.Set(cmd.Context(), true)
	}),
}

var consentDeclineCmd = &cobra.Command{
	Use:   "decline",
	Short: "Record that the user declined analytics consent",
	Args:  cobra.NoArgs,
	RunE: withConsent(func(cmd *cobra.Command, store *consent.Store) {
		store.Set(cmd.Context(), false)
	}),
}

var consentClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the consent decision",
	Args:  cobra.NoArgs,
	RunE: withConsent(func(cmd *cobra.Command, store *consent.Store) {
		store.Clear(cmd.Context())
	}),
}

func init() {
	consentCmd.AddCommand(consentGetCmd, consentGrantCmd, consentDeclineCmd, consentClearCmd)
}

// withConsent opens the consent store, applies fn when set and prints the
// resulting decision.
func withConsent(fn func(cmd *cobra.Command, store *consent.Store)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := app.OpenConsent(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		if fn != nil {
			fn(cmd, store)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), store.Get(cmd.Context()))
		return err
	}
}
