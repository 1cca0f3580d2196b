package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// envFile is loaded before the environment is parsed, when present.
var envFile string

// NewRootCmd creates the root command for the acebook CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acebook",
		Short: "Ace book - tennis court booking",
		Long: `Ace book serves the sign in flow of the court booking app:
it mirrors the identity provider session and renders the matching view.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCmd())

	return cmd
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
