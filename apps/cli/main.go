package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acm19/pixcanon/internal/config"
	"github.com/acm19/pixcanon/internal/logger"
	"github.com/acm19/pixcanon/internal/pics"
	"github.com/barasher/go-exiftool"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "pixcanon",
	Short:   "Bulk convert images to size-bounded AVIF with anonymized names",
	Long:    `Pixcanon converts every raster image under a directory tree to AVIF, keeps each file under a byte and resolution ceiling, and renames the results to collision-free anonymous identifiers.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			logger.SetDebug(true)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run ROOT",
	Short: "Convert, recompress and rename images in place",
	Long:  `Processes every directory under ROOT that contains images. Originals are replaced by their canonical AVIF versions. Interrupt with Ctrl-C to stop scheduling new work; images already being encoded are finished.`,
	Args:  cobra.ExactArgs(1),
	Run:   runRun,
}

var planCmd = &cobra.Command{
	Use:   "plan ROOT",
	Short: "Show what a run would do without touching any file",
	Args:  cobra.ExactArgs(1),
	Run:   runPlan,
}

var cleanCmd = &cobra.Command{
	Use:   "clean ROOT",
	Short: "Remove temp files left behind by interrupted runs",
	Args:  cobra.ExactArgs(1),
	Run:   runClean,
}

var archiveCmd = &cobra.Command{
	Use:   "archive ROOT BUCKET",
	Short: "Archive the images of every directory to S3",
	Long:  `Creates a tar.gz of the images in each directory under ROOT and uploads it to BUCKET, skipping archives already present with the same MD5.`,
	Args:  cobra.ExactArgs(2),
	Run:   runArchive,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration file",
	Args:  cobra.NoArgs,
	Run:   runConfig,
}

var (
	configPath    string
	debug         bool
	maxSize       string
	namePolicy    string
	accelerated   bool
	workers       int
	encoderName   string
	useExiftool   bool
	archiveBucket string
	maxConcurrent int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default ~/.config/pixcanon/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	for _, cmd := range []*cobra.Command{runCmd, planCmd} {
		cmd.Flags().StringVar(&maxSize, "max-size", "", "Byte ceiling per file, e.g. 4MiB")
		cmd.Flags().StringVar(&namePolicy, "policy", "", "Identifier policy: random or content")
		cmd.Flags().BoolVar(&useExiftool, "exiftool", false, "Read image dimensions with exiftool")
	}
	runCmd.Flags().BoolVar(&accelerated, "accelerated", false, "Use the faster encoder speed")
	runCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of encode workers (default 80% of CPUs)")
	runCmd.Flags().StringVar(&encoderName, "encoder", "", "Encoder: auto, builtin or avifenc")
	runCmd.Flags().StringVar(&archiveBucket, "archive-bucket", "", "Upload originals to this S3 bucket before replacing them")

	archiveCmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 0, "Maximum concurrent uploads")

	rootCmd.AddCommand(runCmd, planCmd, cleanCmd, archiveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads the configuration file and applies flags that were set.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, settings); err != nil {
		return nil, err
	}
	if err := settings.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func applyFlags(cmd *cobra.Command, settings *config.Settings) error {
	flags := cmd.Flags()
	cfg := &settings.Pipeline
	if flags.Changed("max-size") {
		n, err := humanize.ParseBytes(maxSize)
		if err != nil {
			return fmt.Errorf("--max-size: %w", err)
		}
		cfg.MaxFileSize = int64(n)
	}
	if flags.Changed("policy") {
		p, err := pics.ParseNamePolicy(namePolicy)
		if err != nil {
			return fmt.Errorf("--policy: %w", err)
		}
		cfg.NamePolicy = p
	}
	if flags.Changed("accelerated") {
		cfg.Accelerated = accelerated
	}
	if flags.Changed("workers") {
		if workers < 1 {
			return fmt.Errorf("--workers must be at least 1")
		}
		cfg.MaxWorkers = workers
	}
	if flags.Changed("encoder") {
		e, err := pics.ParseEncoderPreference(encoderName)
		if err != nil {
			return fmt.Errorf("--encoder: %w", err)
		}
		settings.Encoder = e
	}
	if flags.Changed("archive-bucket") {
		settings.ArchiveBucket = archiveBucket
	}
	if flags.Changed("max-concurrent") {
		if maxConcurrent < 1 {
			return fmt.Errorf("--max-concurrent must be at least 1")
		}
		settings.ArchiveConcurrency = maxConcurrent
	}
	return nil
}

// newMetadataReader starts exiftool when requested. The returned func closes it.
func newMetadataReader() (pics.MetadataReader, func(), error) {
	if !useExiftool {
		return pics.NewMetadataReader(nil), func() {}, nil
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise exiftool: %w", err)
	}
	return pics.NewMetadataReader(et), func() { et.Close() }, nil
}

func runRun(cmd *cobra.Command, args []string) {
	root := args[0]

	settings, err := loadSettings(cmd)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := pics.ValidateRoot(root); err != nil {
		logger.Error("Root validation failed", "error", err)
		os.Exit(1)
	}

	encoder, err := pics.ProbeEncoder(settings.Encoder)
	if err != nil {
		logger.Error("No usable encoder", "error", err)
		os.Exit(1)
	}
	meta, closeMeta, err := newMetadataReader()
	if err != nil {
		logger.Error("Metadata reader unavailable", "error", err)
		os.Exit(1)
	}
	defer closeMeta()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := make(chan pics.ProgressEvent, 64)
	opts := pics.DefaultOptions()
	opts.Config = settings.Pipeline
	opts.ProgressChan = progress

	orchestrator := pics.NewOrchestrator(opts, encoder, meta)
	if settings.ArchiveBucket != "" {
		archiver, err := pics.NewS3Archiver(ctx)
		if err != nil {
			logger.Error("Failed to initialise archive", "error", err)
			os.Exit(1)
		}
		orchestrator.SetArchiver(archiver, settings.ArchiveBucket)
	}

	type outcome struct {
		summary pics.RunSummary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer close(progress)
		summary, err := orchestrator.Run(ctx, root)
		done <- outcome{summary, err}
	}()

	renderProgress(progress, os.Stdout)
	result := <-done
	stop()

	if result.err != nil {
		if errors.Is(result.err, pics.ErrNoCandidates) {
			logger.Error("No candidate images found", "root", root)
		} else {
			logger.Error("Run failed", "error", result.err)
		}
		os.Exit(exitStatus(result.summary, result.err))
	}

	fmt.Println(renderRunSummary(result.summary))
	if code := exitStatus(result.summary, nil); code != 0 {
		if result.summary.Cancelled {
			logger.Warn("Run was cancelled before all images were processed")
		} else {
			logger.Error("Run completed with failures", "failed", result.summary.Failed())
		}
		os.Exit(code)
	}
	logger.Info("Run completed successfully", "duration_seconds", result.summary.Duration.Seconds())
}

// exitStatus maps the outcome of a run to the process exit code.
func exitStatus(summary pics.RunSummary, err error) int {
	switch {
	case err != nil:
		return 1
	case summary.Cancelled:
		return 130
	case summary.Failed() > 0:
		return 1
	}
	return 0
}

func runPlan(cmd *cobra.Command, args []string) {
	root := args[0]

	settings, err := loadSettings(cmd)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	meta, closeMeta, err := newMetadataReader()
	if err != nil {
		logger.Error("Metadata reader unavailable", "error", err)
		os.Exit(1)
	}
	defer closeMeta()

	opts := pics.DefaultOptions()
	opts.Config = settings.Pipeline
	planned, err := pics.NewOrchestrator(opts, pics.NewBuiltinEncoder(), meta).Plan(root)
	if err != nil {
		logger.Error("Plan failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(renderPlan(planned))
}

func runClean(cmd *cobra.Command, args []string) {
	root := args[0]
	removed, err := pics.CleanupStaleTempsTree(root)
	if err != nil {
		logger.Error("Cleanup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Cleanup completed", "removed", removed)
}

func runArchive(cmd *cobra.Command, args []string) {
	root := args[0]
	bucket := args[1]

	settings, err := loadSettings(cmd)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	units, err := pics.DiscoverUnits(root)
	if err != nil {
		logger.Error("Discovery failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	archiver, err := pics.NewS3Archiver(ctx)
	if err != nil {
		logger.Error("Failed to initialise archive", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting archive", "root", root, "bucket", bucket, "max_concurrent", settings.ArchiveConcurrency)
	if err := archiver.ArchiveUnits(ctx, units, bucket, settings.ArchiveConcurrency); err != nil {
		logger.Error("Archive failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Archive completed successfully")
}

func runConfig(cmd *cobra.Command, args []string) {
	sample, err := config.Sample()
	if err != nil {
		logger.Error("Failed to render configuration", "error", err)
		os.Exit(1)
	}
	fmt.Print(sample)
}
