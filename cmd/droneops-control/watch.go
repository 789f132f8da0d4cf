package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"droneops-control/internal/watch"
)

var (
	watchServer string
	watchOrg    string
	watchToken  string
	watchEmail  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live mission board in the terminal",
	Long:  "watch polls the API and renders mission status and flight telemetry for one organization.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchOrg == "" {
			return fmt.Errorf("--org is required")
		}
		token := watchToken
		if token == "" {
			token = os.Getenv("DRONEOPS_TOKEN")
		}
		if token == "" {
			if watchEmail == "" {
				return fmt.Errorf("provide --token, DRONEOPS_TOKEN, or --email for login")
			}
			password := os.Getenv("DRONEOPS_PASSWORD")
			if password == "" {
				return fmt.Errorf("set DRONEOPS_PASSWORD when logging in with --email")
			}
			t, err := watch.Login(watchServer, watchEmail, password)
			if err != nil {
				return err
			}
			token = t
		}
		return watch.Run(watch.NewClient(watchServer, token), watchOrg)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:8080", "Base URL of the control plane API")
	watchCmd.Flags().StringVar(&watchOrg, "org", "", "Organization ID to watch")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "Bearer token (defaults to DRONEOPS_TOKEN)")
	watchCmd.Flags().StringVar(&watchEmail, "email", "", "Login email (password via DRONEOPS_PASSWORD)")
}
