package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "amble",
	Short: "Robotic mower BLE control tool",
	Long: `Control Husqvarna and Gardena robotic mowers over Bluetooth Low Energy:

- Scan for nearby mowers
- Read battery, activity, and schedule status
- Start, pause, dock, and park the mower
- Monitor telemetry continuously

The mower must be paired once via its keypad before amble can connect;
PIN-protected devices additionally need the --pin flag or a config file.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(dockCmd)
	rootCmd.AddCommand(parkCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(profilesCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("address", "a", "", "Mower BLE address")
	rootCmd.PersistentFlags().String("pin", "", "4-digit pairing PIN")
	rootCmd.PersistentFlags().String("profile", "", "Device profile (husqvarna, gardena, open)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
