package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var flagPassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Get a token from the relay",
	Long: `Log in and print a token. Export it as CALL_TOKEN or pass it with
--token to the call and room commands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base, err := apiBase(cfg)
		if err != nil {
			return err
		}

		var resp struct {
			Token  string `json:"token"`
			UserID string `json:"user_id"`
		}
		body := map[string]string{"username": args[0], "password": flagPassword}
		if err := newAPIClient(base, "").do(cmd.Context(), http.MethodPost, "/api/auth/login", body, &resp); err != nil {
			return err
		}

		printTitle("Logged in as %s", resp.UserID)
		fmt.Println(resp.Token)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&flagPassword, "password", "demo", "password")
}
