package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facenote/internal/config"
	"github.com/andresmejia3/facenote/pkg/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg config.Config
	// Logger is the process logger, built once the configuration is known
	Logger *logrus.Logger

	envFile string
	flags   config.Config
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facenote",
	Short:   "Annotate points on a live face mesh",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg
		Logger = log.NewLogger(log.Options{Level: cfg.LogLevel, Dir: cfg.LogDir})
		return nil
	},
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	pf := cmd.Flags()
	if pf.Changed("addr") {
		cfg.Addr = flags.Addr
	}
	if pf.Changed("device") {
		cfg.Device = flags.Device
	}
	if pf.Changed("fps") {
		cfg.FPS = flags.FPS
	}
	if pf.Changed("python") {
		cfg.Python = flags.Python
	}
	if pf.Changed("worker-script") {
		cfg.WorkerScript = flags.WorkerScript
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if pf.Changed("log-dir") {
		cfg.LogDir = flags.LogDir
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	def := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")
	pf.StringVar(&flags.Addr, "addr", def.Addr, "UI listen address (FACENOTE_ADDR)")
	pf.StringVar(&flags.Device, "device", "", "Initial capture device id; file:<path> plays a video (FACENOTE_DEVICE)")
	pf.IntVar(&flags.FPS, "fps", def.FPS, "Frame sampling rate (FACENOTE_FPS)")
	pf.StringVar(&flags.Python, "python", def.Python, "Python interpreter for the detector (FACENOTE_PYTHON)")
	pf.StringVar(&flags.WorkerScript, "worker-script", def.WorkerScript, "Face mesh worker script (FACENOTE_WORKER_SCRIPT)")
	pf.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "Log level (FACENOTE_LOG_LEVEL)")
	pf.StringVar(&flags.LogDir, "log-dir", "", "Directory for rotated log files (FACENOTE_LOG_DIR)")
}
