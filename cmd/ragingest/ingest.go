package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/floringheorghiu/multilingual-rag/internal/metrics"
	"github.com/floringheorghiu/multilingual-rag/internal/pipeline"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

var errRunFailed = errors.New("ingestion finished with errors")

func (c *cli) ingestCmd() *cobra.Command {
	var (
		batchDir    string
		asJSON      bool
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest documents into the search index",
		Long: `Ingest files given as arguments, or every supported file below a
directory with --batch. Hidden files and directories are skipped.

Files with an unsupported format are reported and skipped. A file that
fails at any stage does not stop the others.`,
		Example: `  ragingest ingest handbook.pdf faq.docx
  ragingest ingest --batch ./documents`,
		RunE: c.withApp(func(cmd *cobra.Command, args []string) error {
			a := c.app
			paths := append([]string(nil), args...)
			if batchDir != "" {
				found, err := pipeline.Discover(batchDir, a.extractor.Supported)
				if err != nil {
					return fmt.Errorf("failed to scan %s: %w", batchDir, err)
				}
				a.logger.Info("discovered files", "dir", batchDir, "files", len(found))
				paths = append(paths, found...)
			}
			if len(paths) == 0 {
				return errors.New("no files to ingest: pass files or --batch <dir>")
			}

			ctx := cmd.Context()
			if err := a.ensureIndex(ctx); err != nil {
				return err
			}

			stderr := cmd.ErrOrStderr()
			result, err := a.pipeline.ProcessDocuments(ctx, paths, func(p types.PipelineProgress) {
				fmt.Fprintf(stderr, "[%3d%%] %s\n", p.Progress, p.Message)
			})
			if result == nil {
				return err
			}

			var samples []metrics.Sample
			if showMetrics {
				var snapErr error
				if samples, snapErr = a.metrics.Snapshot(ctx); snapErr != nil {
					return fmt.Errorf("failed to read metrics: %w", snapErr)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				var out any = result
				if showMetrics {
					out = struct {
						*types.ProcessingResult
						Metrics []metrics.Sample `json:"metrics"`
					}{result, samples}
				}
				if encErr := enc.Encode(out); encErr != nil {
					return encErr
				}
			} else {
				printSummary(cmd.OutOrStdout(), result)
				if showMetrics {
					printMetrics(cmd.OutOrStdout(), samples)
				}
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return errRunFailed
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&batchDir, "batch", "b", "", "ingest every supported file below this directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print the run's pipeline metrics")
	return cmd
}

func printSummary(w io.Writer, r *types.ProcessingResult) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  Files:       %d total, %d processed, %d unsupported, %d failed\n",
		r.TotalFiles, len(r.DocumentsProcessed), r.UnsupportedFiles, r.ErrorFiles)
	fmt.Fprintf(w, "  Translated:  %d\n", r.TranslatedFiles)
	fmt.Fprintf(w, "  Chunks:      %d indexed, %d skipped\n", r.TotalChunks, r.SkippedChunks)
	fmt.Fprintf(w, "  Duration:    %s\n", r.Duration.Round(time.Millisecond))

	if len(r.Errors) == 0 {
		return
	}
	fmt.Fprintln(w, "Errors:")
	for _, e := range r.Errors {
		note := ""
		if e.Recoverable {
			note = " (recoverable)"
		}
		where := e.FilePath
		if e.ChunkID != "" {
			where += " chunk " + e.ChunkID
		}
		fmt.Fprintf(w, "  - %s [%s] %s%s\n", where, e.Stage, e.Message, note)
	}
}

func printMetrics(w io.Writer, samples []metrics.Sample) {
	fmt.Fprintln(w, "Metrics:")
	for _, s := range samples {
		fmt.Fprintf(w, "  %-44s %g\n", s.Name, s.Value)
	}
}
