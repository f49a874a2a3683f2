package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facestab/internal/config"
	"github.com/andresmejia3/facestab/internal/logging"
	"github.com/andresmejia3/facestab/internal/store"
	"github.com/spf13/cobra"
)

// Options holds the configuration of one stabilize-and-assemble run.
type Options struct {
	InputPath         string
	OutputPath        string
	SkipStabilization bool
	FPS               float64
	FramesDir         string
	Python            string
	WorkerScript      string
	ModelPath         string
	WorkerTimeout     string
}

var (
	// DB is the optional run ledger; nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL    string
	logLevel string
	logFile  string

	opts      Options
	logCloser io.Closer
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "facestab",
	Short: "Keep a face centered in every frame of a video",
	Long: `facestab detects the face in each frame, translates the frame so the point
between the eyes sits at the image center, and merges the frames back into a
video with ffmpeg. Use -s to skip straight to merging an existing frame directory.`,
	Version:       Version,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStabilize(cmd.Context(), cmd.InOrStdin(), cmd.ErrOrStderr(), opts)
	},
}

// rootPersistentPreRunE is attached in init; referencing rootCmd from its own
// initializer would be an initialization cycle.
func rootPersistentPreRunE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyConfig(cmd, cfg)

	logCloser, err = logging.Setup(logging.Options{Level: logLevel, File: logFile})
	if err != nil {
		return err
	}

	// A bad invocation must fail before the ledger is touched.
	if cmd == rootCmd {
		if err := validateOptions(&opts); err != nil {
			return showError("Configuration Error", err, nil)
		}
	}

	url := dbURL
	if url == "" {
		url = cfg.DatabaseURL
	}
	if url == "" {
		return nil
	}
	DB, err = store.New(cmd.Context(), url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// applyConfig fills every flag the user did not set from the environment.
func applyConfig(cmd *cobra.Command, cfg config.Config) {
	set := func(name string, dst *string, v string) {
		if !cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("frames-dir", &opts.FramesDir, cfg.FramesDir)
	set("python", &opts.Python, cfg.Python)
	set("worker-script", &opts.WorkerScript, cfg.WorkerScript)
	set("model", &opts.ModelPath, cfg.ModelPath)
	set("worker-timeout", &opts.WorkerTimeout, cfg.WorkerTimeout.String())
	set("log-level", &logLevel, cfg.LogLevel)
	set("log-file", &logFile, cfg.LogFile)
}

func closeResources() {
	if DB != nil {
		// The command context may already be cancelled by Ctrl+C.
		DB.Close(context.Background())
		DB = nil
	}
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	closeResources()
	if err != nil {
		reportError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = rootPersistentPreRunE

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: built from POSTGRES_* or disabled)")
	pf.StringVar(&opts.FramesDir, "frames-dir", config.DefaultFramesDir, "Directory holding frame_<n>.jpg images")
	pf.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Diagnostic log level (debug, info, warn, error)")
	pf.StringVar(&logFile, "log-file", "", "Also write diagnostics to this rotating file")

	f := rootCmd.Flags()
	f.BoolVarP(&opts.SkipStabilization, "skip-stabilization", "s", false, "Skip stabilizing and merge the existing frame directory")
	f.StringVarP(&opts.InputPath, "input", "i", "", "Path to input video")
	f.StringVarP(&opts.OutputPath, "output", "o", "", "Path to output video")
	f.Float64Var(&opts.FPS, "fps", 0, "Output frame rate (default: the input's frame rate)")
	f.StringVar(&opts.Python, "python", config.DefaultPython, "Python interpreter for the landmark worker")
	f.StringVar(&opts.WorkerScript, "worker-script", config.DefaultWorkerScript, "Path to the landmark worker script")
	f.StringVar(&opts.ModelPath, "model", config.DefaultModelPath, "Path to the dlib 68-point shape predictor")
	f.StringVar(&opts.WorkerTimeout, "worker-timeout", config.DefaultWorkerTimeout.String(), "Timeout for the worker to answer a single request")
}
