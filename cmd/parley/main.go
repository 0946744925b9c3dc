// parley: a conversational assistant with typed or spoken input, a shared
// persisted transcript and spoken replies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
)

var version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
	userID     string
	dbPath     string

	cfg config.Config
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Talk to an assistant by text or voice",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "Configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", "", "User id namespacing the transcript")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite transcript file (empty keeps it in memory)")

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newHistoryCmd(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config file and environment, then applies flags.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("user") {
		cfg.UserID = o.userID
	}
	if flags.Changed("db") {
		cfg.Store.Path = o.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	o.cfg = cfg
	return nil
}
