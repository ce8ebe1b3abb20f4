package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/floringheorghiu/multilingual-rag/internal/config"
	"github.com/floringheorghiu/multilingual-rag/internal/detector"
	"github.com/floringheorghiu/multilingual-rag/internal/mcp"
	"github.com/floringheorghiu/multilingual-rag/internal/searcher"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
)

func (c *cli) detectCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "detect [text...]",
		Short: "Detect the language of a text or a document",
		Example: `  ragingest detect "Bonjour tout le monde"
  ragingest detect --file contract.docx`,
		RunE: c.withApp(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			if file != "" {
				content, err := c.app.extractor.ExtractFile(ctx, file)
				if err != nil {
					return err
				}
				text = content.Text
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("nothing to detect: pass text or --file")
			}

			lr, err := c.app.detector.Detect(ctx, text)
			low := detector.IsLowConfidence(err)
			if err != nil && !low {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Language:   %s\n", lr.Language)
			fmt.Fprintf(w, "Confidence: %.2f\n", lr.Confidence)
			fmt.Fprintf(w, "Supported:  %v\n", lr.Supported)
			if low {
				fmt.Fprintf(w, "Below the confidence threshold %.2f\n", c.app.detector.Threshold())
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "detect the language of a document")
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recent ingestion runs, or the files of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = tw.Flush() }()

			if len(args) == 1 {
				files, err := c.app.store.ListRunFiles(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "FILE\tSTATE\tLANG\tTRANSLATED\tCHUNKS\tDURATION\tERROR")
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%s\t%s\n",
						f.FilePath, f.State, f.Language, f.Translated, f.Chunks,
						f.Duration.Round(time.Millisecond), fileError(f))
				}
				return nil
			}

			runs, err := c.app.store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tFILES\tPROCESSED\tFAILED\tCHUNKS\tERRORS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status,
					r.TotalFiles, r.ProcessedFiles, r.FailedFiles, r.TotalChunks, r.ErrorCount)
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func fileError(f *storage.RunFile) string {
	if f.Error == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Stage, f.Error)
}

func (c *cli) queryCmd() *cobra.Command {
	var (
		limit    int
		mode     string
		language string
		files    string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the local index",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, args []string) error {
			if c.app.searcher == nil {
				return errors.New("query needs the local index; a remote search service is configured")
			}
			req := searcher.Request{
				Index: c.app.writer.IndexName(),
				Query: strings.Join(args, " "),
				Limit: limit,
				Mode:  searcher.Mode(mode),
			}
			if language != "" || files != "" {
				req.Filters = &storage.SearchFilters{Language: language, FilePattern: files}
			}
			resp, err := c.app.searcher.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(w, "No results")
				return nil
			}
			for _, r := range resp.Results {
				lang := r.Language
				if r.Translated {
					lang = fmt.Sprintf("%s, from %s", r.Language, r.OriginalLanguage)
				}
				fmt.Fprintf(w, "%d. %s #%d (%s) score %.4f\n", r.Rank, r.FilePath, r.ChunkIndex, lang, r.Score)
				fmt.Fprintf(w, "   %s\n", snippet(r.Content, 200))
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", searcher.DefaultLimit, "maximum number of results")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(searcher.ModeHybrid), "hybrid, vector or keyword")
	cmd.Flags().StringVar(&language, "language", "", "only chunks indexed in this language")
	cmd.Flags().StringVar(&files, "files", "", "glob over file paths")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ingestion tools over MCP on stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout. Logs go to
stderr and the configured log file; stdout carries protocol messages only.
With metrics.address set, pipeline metrics are served for Prometheus.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string) error {
			a := c.app
			ctx := cmd.Context()
			if err := a.ensureIndex(ctx); err != nil {
				return err
			}

			deps := mcp.Deps{
				Pipeline:  a.pipeline,
				Writer:    a.writer,
				Detector:  a.detector,
				Ledger:    a.store,
				Supported: a.extractor.Supported,
				Logger:    a.logger,
			}
			if a.searcher != nil {
				deps.Searcher = a.searcher
			}
			server, err := mcp.NewServer(deps)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			if addr := a.cfg.Metrics.Address; addr != "" {
				ms, err := a.metrics.Listen(addr, a.cfg.Metrics.Path)
				if err != nil {
					return err
				}
				defer func() {
					closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					if err := ms.Close(closeCtx); err != nil {
						a.logger.Warn("metrics server shutdown failed", "error", err)
					}
				}()
				a.logger.Info("serving metrics", "addr", ms.Addr(), "path", a.cfg.Metrics.Path)
			}

			a.logger.Info("MCP server ready, listening on stdio",
				"version", version, "index", a.writer.IndexName(), "backend", a.writer.Backend())
			err = server.Serve(ctx)
			if ctx.Err() != nil {
				a.logger.Info("server stopped")
				return nil
			}
			return err
		}),
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ragingest %s\n", version)
			fmt.Fprintf(w, "Build Time: %s\n", buildTime)
			fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a config file template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "ragingest.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Fill in the provider credentials or leave them to run offline.\n", path)
			return nil
		},
	}
}
