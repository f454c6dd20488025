package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aurmirror/aurmeta/config"
	"github.com/aurmirror/aurmeta/log"
)

var (
	flagConfig   string
	flagIndex    string
	flagUpstream string
	flagToken    string
	flagVerbose  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aurmeta",
		Short: "Mirror AUR metadata from an upstream Git host",
		Long: `aurmeta mirrors the Arch User Repository metadata from an upstream
Git monorepo and re-exposes it through AUR-compatible surfaces: the RPC
JSON API, per-package virtual Git repositories, and snapshot redirects.

The sync verb extracts every branch's .SRCINFO over Git Smart-HTTP v2
without cloning and merges the parsed records into a local SQLite index;
the serve verb answers queries from that index.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the TOML configuration file")
	root.PersistentFlags().StringVar(&flagIndex, "index", "", "path to the SQLite index (overrides config)")
	root.PersistentFlags().StringVar(&flagUpstream, "upstream", "", "upstream repository URL (overrides config)")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token for upstream requests (overrides config)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newSyncCmd())
	root.AddCommand(newServeCmd())
	return root
}

// loadConfig resolves the effective configuration: file (or defaults)
// plus flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagIndex != "" {
		cfg.IndexPath = flagIndex
	}
	if flagUpstream != "" {
		cfg.Upstream = flagUpstream
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	return cfg, nil
}

// newLogger builds the logrus-backed logger the libraries write to.
func newLogger() log.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagVerbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return log.NewLogrus(l)
}
