package main

import (
	"context"
	"fmt"
	"time"

	"code.dogecoin.org/governor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thombles/whoisit/internal/audit"
	"github.com/thombles/whoisit/internal/config"
	"github.com/thombles/whoisit/internal/ident"
	"github.com/thombles/whoisit/internal/resolver"
	"github.com/thombles/whoisit/internal/spec"
	"github.com/thombles/whoisit/internal/store"
	"github.com/thombles/whoisit/internal/web"
)

var cfgFile string
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "whoisit",
	Short: "RFC 1413 ident responder",
	Long: `whoisit answers ident queries: given the two ports of a TCP
connection involving this host, it reports which local user owns it,
resolving ownership through lsof on every query.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("whoisit %s (built %s)\n", version, buildDate)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&cfgFile, "config", "c", "", "path to config file")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rf := rootCmd.Flags()
	rf.StringArray("listen", nil, "listen address (repeatable)")
	rf.Int("timeout", 0, "per-connection timeout in seconds")
	rf.Int("lookup-timeout", 0, "per-lookup timeout in seconds")
	rf.Int("concurrency", 0, "max concurrent lsof invocations")
	rf.String("lsof", "", "path to the lsof binary")
	rf.String("opsys", "", "opsys tag reported in replies")
	rf.String("db", "", "SQLite file for the query audit log")
	rf.String("web", "", "bind address for the status API")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serviceCmd)
}

// loadConfig merges (in order): defaults, the config file if given,
// and any explicitly set command-line flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return cfg, err
		}
	}
	rf := cmd.Flags()
	if rf.Changed("listen") {
		cfg.Listen, _ = rf.GetStringArray("listen")
	}
	if rf.Changed("timeout") {
		cfg.Timeout, _ = rf.GetInt("timeout")
	}
	if rf.Changed("lookup-timeout") {
		cfg.LookupTimeout, _ = rf.GetInt("lookup-timeout")
	}
	if rf.Changed("concurrency") {
		cfg.Concurrency, _ = rf.GetInt("concurrency")
	}
	if rf.Changed("lsof") {
		cfg.LsofPath, _ = rf.GetString("lsof")
	}
	if rf.Changed("opsys") {
		cfg.Opsys, _ = rf.GetString("opsys")
	}
	if rf.Changed("db") {
		cfg.DB, _ = rf.GetString("db")
	}
	if rf.Changed("web") {
		cfg.Web, _ = rf.GetString("web")
	}
	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	binds, err := cfg.BindAddrs()
	if err != nil {
		return err
	}

	var db spec.Store
	if cfg.DB != "" {
		db, err = store.NewSQLiteStore(cfg.DB, context.Background())
		if err != nil {
			return fmt.Errorf("cannot open query log: %w", err)
		}
		defer db.Close()
	}

	gov := governor.New().CatchSignals().Restart(1 * time.Second)

	var rec ident.Recorder
	if db != nil {
		auditor := audit.New(db)
		gov.Add("audit", auditor)
		rec = auditor
	}

	lookup := resolver.NewLsofLookup(cfg.LsofPath)
	rsv := resolver.New(lookup, cfg.Concurrency, cfg.ResolveTimeout(), cfg.Opsys, cfg.HiddenUsers)

	srv := ident.New(binds, rsv, rec, cfg.ConnTimeout())
	if err := srv.Listen(); err != nil {
		return err
	}
	gov.Add("ident", srv)

	if cfg.StatsInterval > 0 {
		gov.Add("stats", ident.NewStats(cfg.StatsEvery()))
	}
	if cfg.Web != "" {
		webAddr, _ := spec.ParseAddress(cfg.Web)
		gov.Add("web-api", web.New(webAddr, db))
	}

	logrus.WithField("version", version).Info("whoisit starting")

	// run services until interrupted.
	gov.Start()
	gov.WaitForShutdown()
	logrus.Info("whoisit stopped")
	return nil
}
