package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/lstore/config"
	"github.com/leftmike/lstore/db"
	"github.com/leftmike/lstore/kv"
	"github.com/leftmike/lstore/page"
)

var (
	lstoreCmd = &cobra.Command{
		Use:          "lstore",
		Short:        "An embedded columnar record store",
		Long:         "Lstore keeps records of int64 columns in base and tail pages.",
		SilenceUsage: true,
	}

	cfg = config.NewConfig(lstoreCmd.PersistentFlags())

	logFile = cfg.Var(new(string), "log-file").Usage("`file` to use for logging").
		Env("LSTORE_LOG_FILE").String("lstore.log")
	logLevel = cfg.Var(new(string), "log-level").
		Usage("log level: trace, debug, info, warn, error, fatal, or panic").
		Env("LSTORE_LOG_LEVEL").String("info")
	logStderr = false
	logWriter io.WriteCloser

	configFile = "lstore.hcl"
	noConfig   = false

	pageSize = cfg.Var(new(int), "page-size").Usage("`bytes` per page").
		Env("LSTORE_PAGE_SIZE").Int(page.DefaultLayout.PageSize)
	basePages = cfg.Var(new(int), "base-pages").Usage("base `pages` per page range").
		Env("LSTORE_BASE_PAGES").Int(page.DefaultLayout.BasePages)
	store = cfg.Var(new(string), "store").
		Usage("snapshot store: memory, " + strings.Join(kv.Stores, ", ")).
		Env("LSTORE_STORE").String("memory")
	dataDir = cfg.Var(new(string), "data").Usage("`directory` containing the snapshot").
		Env("LSTORE_DATA").String("testdata")
	compress = cfg.Var(new(bool), "compress").Usage("compress snapshot pages").
		Env("LSTORE_COMPRESS").Bool(false)
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	lstoreCmd.PersistentPreRunE = lstorePreRun
	lstoreCmd.PersistentPostRun = lstorePostRun

	fs := lstoreCmd.PersistentFlags()
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")
	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return lstoreCmd.Execute()
}

func lstorePreRun(cmd *cobra.Command, args []string) error {
	err := cfg.Env()
	if err != nil {
		return fmt.Errorf("lstore: %s", err)
	}

	if configFile != "" && !noConfig {
		err = cfg.Load(configFile)
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config-file") {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("lstore: %s", err)
		}
	}

	if !logStderr && *logFile != "" {
		logWriter, err = os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("lstore: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("lstore: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("lstore starting")
	return nil
}

func lstorePostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("lstore done")

	if logWriter != nil {
		logWriter.Close()
	}
}

func openDatabase() (*db.Database, error) {
	opts := db.Options{
		Layout: page.Layout{
			PageSize:  *pageSize,
			BasePages: *basePages,
		},
		Compress: *compress,
		Logger:   log.StandardLogger(),
	}

	if *store != "memory" {
		err := os.MkdirAll(*dataDir, 0755)
		if err != nil {
			return nil, fmt.Errorf("lstore: %s", err)
		}
		opts.KV, err = kv.Open(*store, *dataDir, log.StandardLogger())
		if err != nil {
			return nil, fmt.Errorf("lstore: %s", err)
		}
	}

	d, err := db.Open(opts)
	if err != nil {
		if opts.KV != nil {
			opts.KV.Close()
		}
		return nil, fmt.Errorf("lstore: %s", err)
	}

	log.WithFields(log.Fields{
		"id":    d.ID(),
		"store": *store,
		"data":  *dataDir,
	}).Info("database open")
	return d, nil
}
