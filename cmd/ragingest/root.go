package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/floringheorghiu/multilingual-rag/internal/config"
)

// cli carries global flags and the components built for the running command.
type cli struct {
	configPath string
	verbose    bool

	app         *app
	closeLogger func() error
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "ragingest",
		Short: "Multilingual document ingestion for retrieval-augmented generation",
		Long: `ragingest extracts text from pdf, docx, txt, md and html files, detects
their language, translates them to a common target language, splits them
into overlapping chunks, embeds the chunks and uploads them to a search index.

Without provider credentials it runs fully offline: lexical language
detection, deterministic local embeddings and a SQLite index.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		c.ingestCmd(),
		c.healthCmd(),
		c.clearCmd(),
		c.deleteCmd(),
		c.detectCmd(),
		c.runsCmd(),
		c.queryCmd(),
		c.serveCmd(),
		versionCmd(),
		initConfigCmd(),
	)
	return root
}

// withApp wraps a command body so it runs with the wired components, which
// are released when it returns.
func (c *cli) withApp(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := c.setup(); err != nil {
			return errors.Join(err, c.shutdown())
		}
		defer func() {
			err = errors.Join(err, c.shutdown())
		}()
		return fn(cmd, args)
	}
}

// setup loads configuration, the logger and every component.
func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel()
	if c.verbose {
		level = slog.LevelDebug
	}
	logger, closeLogger := config.SetupLogger(cfg.Logging.File, level)
	c.closeLogger = closeLogger
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) shutdown() error {
	var err error
	if c.app != nil {
		err = c.app.close()
		c.app = nil
	}
	if c.closeLogger != nil {
		_ = c.closeLogger()
		c.closeLogger = nil
	}
	return err
}
