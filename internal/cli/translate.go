package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mgpai22/sublingo/internal/bundle"
	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/pipeline"
	"github.com/mgpai22/sublingo/internal/subtitle"
)

var translateCmd = &cobra.Command{
	Use:   "translate [subtitle_file...]",
	Short: "Translate subtitle files to another language using AI",
	Long: `Translate one or more SRT or VTT subtitle files.

Lines are translated in context batches and written back onto the original
timestamps. Batches that fail after all retries keep their original text
(or are dropped with --on-failure omit) and are listed in the summary.

The --display-mode flag controls the output layout; the bilingual modes put
the original and the translation in the same subtitle.

Examples:
  sublingo translate episode.srt -t zh
  sublingo translate *.srt -t "Brazilian Portuguese" --zip translated.zip
  sublingo translate movie.vtt -t ja -m original_over_translated --resplit
  sublingo translate talk.srt -t fr --provider openai --tier quality -o talk.fr.srt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)

	addJobFlags(translateCmd)
	translateCmd.Flags().
		StringP("output", "o", "", "Output file path (single input only)")
	translateCmd.Flags().
		String("output-dir", "", "Directory for translated files (defaults to next to each input)")
	translateCmd.Flags().
		String("zip", "", "Also write all translated files into this zip archive")
}

// fileResult is one row of the summary table
type fileResult struct {
	input   string
	output  string
	size    int
	summary *pipeline.Summary
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	outputPath, _ := cmd.Flags().GetString("output")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	zipPath, _ := cmd.Flags().GetString("zip")

	if outputPath != "" && len(args) > 1 {
		return fmt.Errorf("--output can only be used with a single input file")
	}
	for _, path := range args {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("subtitle file not found: %s", path)
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".srt" && ext != ".vtt" {
			return fmt.Errorf("unsupported subtitle format %q: use .srt or .vtt", ext)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	orch, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	logger.Infow("Starting subtitle translation",
		"files", len(args),
		"provider", cfg.Translation.Provider,
		"target_language", cfg.Translation.TargetLanguage,
		"display_mode", cfg.Translation.DisplayMode,
		"tier", cfg.Translation.ModelTier,
		"mode", cfg.Translation.Mode,
	)

	var (
		results []fileResult
		files   []bundle.File
	)
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}
		dest := outputPath
		if dest == "" {
			dest = subtitle.OutputPath(path, cfg.Translation.TargetLanguage, cfg.DisplayMode())
			if outputDir != "" {
				dest = filepath.Join(outputDir, filepath.Base(dest))
			}
		}

		result, err := translateFile(ctx, orch, cfg, path, dest)
		if err != nil {
			return err
		}
		results = append(results, result)
		if result.output != "" {
			data, err := os.ReadFile(result.output)
			if err != nil {
				return fmt.Errorf("failed to read back %s: %w", result.output, err)
			}
			files = append(files, bundle.File{Name: path, Data: data})
		}
	}

	if zipPath != "" && len(files) > 0 {
		if err := writeZip(zipPath, files); err != nil {
			return err
		}
		logger.Infow("Wrote archive", "path", zipPath, "files", len(files))
	}

	fmt.Fprintln(cmd.OutOrStdout(), summaryTable(results))

	failed := 0
	for _, r := range results {
		if r.summary.State != pipeline.StateCompleted {
			failed++
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("translation interrupted")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be translated", failed, len(results))
	}
	return nil
}

// detectSource guesses the file's language. It returns "" when the guess is
// unreliable or names the target language.
func detectSource(path string, raw []byte, target string) string {
	entries, _, err := subtitle.Decode(path, raw)
	if err != nil {
		return ""
	}
	lang := subtitle.DetectLanguage(entries)
	if lang == "" || subtitle.SameLanguage(lang, target) {
		return ""
	}
	return lang
}

func translateFile(
	ctx context.Context,
	orch *pipeline.Orchestrator,
	cfg config.Config,
	path, dest string,
) (fileResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileResult{}, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	if cfg.Translation.SourceLanguage == "" {
		if lang := detectSource(path, raw, cfg.Translation.TargetLanguage); lang != "" {
			cfg.Translation.SourceLanguage = lang
			logger.Infow("Detected source language", "file", path, "language", lang)
		}
	}

	job := orch.NewJob(path, raw, cfg)
	for ev := range job.Run(ctx) {
		logEvent(ev)
	}

	summary := job.Summary()
	result := fileResult{input: path, summary: summary}
	if summary.State == pipeline.StateFailed {
		logger.Errorw("Subtitle file could not be translated",
			"file", path,
			"error", summary.Error,
		)
		return result, nil
	}
	if summary.State == pipeline.StateCancelled {
		return result, nil
	}

	if err := subtitle.WriteFile(dest, job.Format(), job.Entries(), cfg.DisplayMode()); err != nil {
		return result, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return result, fmt.Errorf("failed to stat output file: %w", err)
	}
	result.output = dest
	result.size = int(info.Size())
	return result, nil
}

func logEvent(ev pipeline.Event) {
	switch ev.Status {
	case pipeline.StatusStarted:
		logger.Debugw("Translating batch",
			"batch", ev.BatchIndex,
			"first", ev.FirstIndex,
			"last", ev.LastIndex,
		)
	case pipeline.StatusPartial:
		logger.Debugw("Received partial translation",
			"batch", ev.BatchIndex,
			"chars", len([]rune(ev.PartialText)),
		)
	case pipeline.StatusDone:
		logger.Infow("Batch translated",
			"batch", ev.BatchIndex,
			"first", ev.FirstIndex,
			"last", ev.LastIndex,
		)
	case pipeline.StatusDegraded:
		logger.Warnw("Batch translated with approximate alignment",
			"batch", ev.BatchIndex,
			"error", ev.Err,
		)
	case pipeline.StatusFailed:
		logger.Warnw("Batch kept untranslated",
			"batch", ev.BatchIndex,
			"error", ev.Err,
		)
	case pipeline.StatusSkipped:
		logger.Debugw("Batch skipped", "batch", ev.BatchIndex)
	}
}

func writeZip(path string, files []bundle.File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if err := bundle.Write(f, files); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func summaryTable(results []fileResult) string {
	headers := []string{"File", "State", "Entries", "Batches", "Failed", "Degraded", "Split", "Size", "Time"}
	aligns := []columnAlignment{
		alignLeft, alignLeft, alignRight, alignRight, alignRight,
		alignRight, alignRight, alignRight, alignRight,
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		s := r.summary
		size := "-"
		if r.output != "" {
			size = humanize.Bytes(uint64(r.size))
		}
		rows = append(rows, []string{
			filepath.Base(r.input),
			string(s.State),
			strconv.Itoa(s.Entries),
			strconv.Itoa(s.Batches),
			strconv.Itoa(len(s.FailedBatches)),
			strconv.Itoa(len(s.DegradedBatches)),
			strconv.Itoa(s.Resplit.Split),
			size,
			s.Elapsed.Round(time.Millisecond).String(),
		})
	}
	return renderTable(headers, rows, aligns)
}
