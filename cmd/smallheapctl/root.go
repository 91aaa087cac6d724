package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose      bool
	topBound     int
	bottomBound  int
	minBlockSize int
)

var rootCmd = &cobra.Command{
	Use:   "smallheapctl",
	Short: "Exercise and inspect a smallheap allocator",
	Long: `smallheapctl drives a fixed-range smallheap allocator through
allocation workloads and reports its internal state: block layout, per-block
free-lists, usage, and availability.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVar(&topBound, "top", 0, "High address bound (0 = built-in default)")
	rootCmd.PersistentFlags().IntVar(&bottomBound, "bottom", 0, "Low address bound (0 = built-in default)")
	rootCmd.PersistentFlags().IntVar(&minBlockSize, "block-size", 0, "Minimum block size in bytes (0 = built-in default)")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
