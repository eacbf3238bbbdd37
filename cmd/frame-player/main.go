// Command frame-player plays video files through a frame-bridge playback graph.
//
// Usage:
//
//	frame-player play clip1.mp4 clip2.mp4   # SDL window, 'o' cycles the list
//	frame-player headless clip.mp4 -n 30    # no window, PNG snapshots + stats
//	frame-player probe clip.mp4             # container/track summary
//	frame-player config                     # effective configuration as YAML
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/e7canasta/frame-bridge/internal/config"
	"github.com/e7canasta/frame-bridge/internal/probe"
)

// Version information
const version = "v0.1.0"

var (
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "frame-player",
	Short:         "Play video files through a renderless frame bridge",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Log.Format = logFormat
		}
		if err := config.Validate(loaded); err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Inspect a media file without building a graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := probe.Inspect(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Path:       %s\n", info.Path)
		fmt.Fprintf(out, "Size:       %d bytes\n", info.Size)
		fmt.Fprintf(out, "Container:  %s\n", info.Container)
		if info.Container == probe.ContainerMP4 {
			fmt.Fprintf(out, "Fragmented: %v\n", info.Fragmented)
			fmt.Fprintf(out, "Codec:      %s\n", info.Codec)
			fmt.Fprintf(out, "Video:      %dx%d\n", info.Width, info.Height)
			fmt.Fprintf(out, "Duration:   %s\n", info.Duration)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "frame-player %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./frame-player.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	rootCmd.AddCommand(playCmd, headlessCmd, probeCmd, configCmd, versionCmd)
}

func setupLogging(c *config.Config) {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
