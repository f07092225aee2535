package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Int64Var(&initUserID, "user-id", 0, "numeric id of the authenticated user")
	initCmd.Flags().StringVar(&initUsername, "username", "", "username of the authenticated user")
}

var (
	initUserID   int64
	initUsername string
)

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the API token in ~/.gatherly/config.toml",
	Long:  "Initialize the Gatherly CLI by storing your API token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		if initUserID != 0 {
			cfg.Auth.UserID = initUserID
		}
		if initUsername != "" {
			cfg.Auth.Username = initUsername
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}
