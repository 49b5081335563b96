package cli

import (
	"context"
	"fmt"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

func newWhoamiCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Long: `Sign in with RESMO_EMAIL and RESMO_PASSWORD (local provider) or wait for
the identity published on Redis, then print the session.`,
		Args: cobra.NoArgs,
		RunE: runWhoami,
	}
	cmd.Flags().Bool("json", false, "print the session as JSON")
	return cmd
}

type whoamiView struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Label       string `json:"label"`
	Verified    bool   `json:"email_verified"`
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	// the display name lookup may still be in flight right after sign in
	state := a.manager.CurrentState()
	if state.ResolvedDisplayName == nil {
		settleCtx, cancel := context.WithTimeout(cmd.Context(), a.config.GetLookupTimeout())
		defer cancel()
		updates, stop := a.manager.Watch()
		defer stop()
	wait:
		for {
			select {
			case <-settleCtx.Done():
				break wait
			case next, ok := <-updates:
				if !ok {
					break wait
				}
				state = next
				if state.ResolvedDisplayName != nil || !state.IsAuthenticated() {
					break wait
				}
			}
		}
	}

	if !state.IsAuthenticated() {
		fmt.Fprintln(cmd.OutOrStdout(), describe(state))
		return nil
	}

	view := whoamiView{
		UserID:      state.UserID(),
		Email:       state.Identity.Email(),
		DisplayName: state.Identity.DisplayName(),
		Label:       state.Label(),
		Verified:    state.Identity.EmailVerified(),
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(view))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), describe(state))
	return nil
}
