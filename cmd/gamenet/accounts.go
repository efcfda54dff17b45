package main

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/gamenet/internal/app"
	"github.com/1ureka/gamenet/internal/util"
)

func accountsCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the account database",
	}
	cmd.PersistentFlags().StringVar(&path, "db", "accounts.db", "SQLite account database")

	var password string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = askPassword()
			}
			if err := app.AddAccount(cmd.Context(), path, args[0], password); err != nil {
				return err
			}
			util.LogSuccess("account %q added to %s", args[0], path)
			return nil
		},
	}
	add.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when empty)")

	cmd.AddCommand(add)
	return cmd
}

// askPassword prompts until a non-empty password is entered.
func askPassword() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Password").
			WithMask("*").
			Show()

		if pw := strings.TrimSpace(raw); pw != "" {
			pterm.Println()
			return pw
		}

		util.LogWarning("password must not be empty")
		pterm.Println()
	}
}
