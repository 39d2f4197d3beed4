// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/dmahler/beatdetect/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "beatdetect",
	Short: "Real-time beat detector for streaming audio",
	Long: `A real-time beat (onset) detector that analyzes a live or file-based
audio stream and emits beat events with a fixed lookahead for visual sync.`,
	RunE: run,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().StringP("input", "i", "", "WAV file to analyze instead of live capture")
	rootCmd.PersistentFlags().StringP("policy", "p", "impulse", "decision policy (impulse or flux)")
	rootCmd.PersistentFlags().IntP("lookahead", "l", 90, "event lookahead in milliseconds")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	bindFlags()
}

// bindFlags registers the persistent flags as viper overrides. Called again by
// tests after viper.Reset() wipes the bindings.
func bindFlags() {
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("input_file", rootCmd.PersistentFlags().Lookup("input"))
	viper.BindPFlag("policy", rootCmd.PersistentFlags().Lookup("policy"))
	viper.BindPFlag("lookahead_ms", rootCmd.PersistentFlags().Lookup("lookahead"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
