package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	asUser    string
	asGroups  []string
	asToken   string
)

var rootCmd = &cobra.Command{
	Use:   "modelkeepctl",
	Short: "CLI for the modelkeep server",
	Long: `modelkeepctl manages model versions, executions, presets, and artifacts
on a modelkeep server.

The caller identity is taken from --user and --group and sent as the
X-Remote-User and X-Remote-Group headers, or from --token as a JWT
bearer token on servers with JWT identity enabled. Mutating registry
commands (create, promote, rollback, test, upload) need a group or
token role the server maps to the admin role.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Modelkeep server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "", "Caller username (default: from MODELKEEP_USER env)")
	rootCmd.PersistentFlags().StringSliceVar(&asGroups, "group", nil, "Caller group, repeatable")
	rootCmd.PersistentFlags().StringVar(&asToken, "token", "", "JWT bearer token (default: from MODELKEEP_TOKEN env)")

	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(healthCmd)
}

// resolvedUser returns the effective caller username.
// Priority: --user flag > MODELKEEP_USER env var > anonymous.
func resolvedUser() string {
	if asUser != "" {
		return asUser
	}
	return os.Getenv("MODELKEEP_USER")
}

// resolvedToken returns the bearer token to send, if any.
// Priority: --token flag > MODELKEEP_TOKEN env var.
func resolvedToken() string {
	if asToken != "" {
		return asToken
	}
	return os.Getenv("MODELKEEP_TOKEN")
}
