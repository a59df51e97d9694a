package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/league-payments/internal/auth"
)

var tokenOperator string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator access token",
	Long:  `Sign a bearer token for an operator. The operator id is recorded on cash payments the operator enters.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if err := cfg.Security.Validate(); err != nil {
			log.Fatalf("security config: %v", err)
		}

		token, expiresAt, err := auth.NewJWTTokenIssuer(cfg.Security).GenerateToken(tokenOperator)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
		fmt.Println("expires:", expiresAt.Format(time.RFC3339))
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenOperator, "user", "u", "", "operator id to put in the token")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
}
