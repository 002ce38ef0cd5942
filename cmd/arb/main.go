package main

import (
	"fmt"
	"os"

	"github.com/groblegark/arbiter/internal/client"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpURL    string
	authToken  string
	jsonOutput bool
	noColor    bool

	arbClient client.Client
)

func defaultHTTPURL() string {
	if s := os.Getenv("ARBITER_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func defaultServer() string {
	if s := os.Getenv("ARBITER_SERVER"); s != "" {
		return s
	}
	return "localhost:9090"
}

var rootCmd = &cobra.Command{
	Use:           "arb <command>",
	Short:         "Operate the arbiter debate-wager backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Setup(noColor)
		arbClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if arbClient != nil {
			arbClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("ARBITER_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "ingest", Title: "Ingestion:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Sessions
	rootCmd.AddCommand(evaluationCmd)
	rootCmd.AddCommand(sessionCmd)

	// Ingestion
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(watcherCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
