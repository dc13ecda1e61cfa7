package main

import (
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/jrsteele09/go-session-client/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	showMetrics bool

	client *app
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Sign in to the movie API and call it with a managed session",
	Long: `sessionctl keeps a signed in session for the configured API.

Credentials are stored per API origin under SESSION_DATA_FOLDER and are refreshed
automatically when the API answers 401. Configuration comes from the environment:
SESSION_BASE_URL, SESSION_STRATEGY (bearer, cookie, oauth2), LOG_LEVEL, ENV.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.New()
		level := cfg.GetLogLevel()
		if verbose {
			level = zerolog.LevelDebugValue
		}
		logger := logging.New(cfg.GetEnv(), level)

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		client = a
		return nil
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if showMetrics && client != nil {
			return client.printMetrics()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		displayAppname(client.cfg.GetAppName())
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print refresh counters after the command")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, getCmd, routesCmd)
}
