package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robomow/amble/internal/transport/goble"
	"github.com/robomow/amble/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby mowers",
	Long: `Scan for robotic mowers advertising a known device profile.

By default only devices matching a registered profile (husqvarna, gardena)
are shown; use --all to list every BLE device in range.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanLive     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show all BLE devices, not only known mowers")
	scanCmd.Flags().BoolVarP(&scanLive, "live", "l", false, "Print discoveries as they happen")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scanner.New(goble.New(logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	duration := scanDuration
	if !cmd.Flags().Changed("duration") && cfg.ScanTimeout > 0 {
		duration = cfg.ScanTimeout
	}
	opts := &scanner.Options{
		Duration:   duration,
		AllDevices: scanAll,
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	var onEvent func(scanner.Event)
	var progress *ProgressPrinter
	if scanLive {
		onEvent = printLiveEvent
	} else {
		progress = NewProgressPrinter("Scanning for mowers", "Scanning", duration, "Processing results")
		progress.Start()
		defer progress.Stop()
	}

	var progressCb scanner.ProgressCallback
	if progress != nil {
		progressCb = progress.Callback()
	}
	devices, err := s.Scan(ctx, opts, onEvent, progressCb)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if progress != nil {
		progress.Stop()
	}

	if scanFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}
	return displayDeviceTable(devices)
}

func printLiveEvent(e scanner.Event) {
	if e.Type != scanner.EventNew {
		return
	}
	name := e.Device.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("%s  %s  %d dBm  %s\n",
		color.GreenString("found"), e.Device.Address, e.Device.RSSI, name)
}

func displayDeviceTable(devices []scanner.Device) error {
	if len(devices) == 0 {
		fmt.Println("No mowers discovered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPROFILE\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		profile := d.Profile
		if profile == "" {
			profile = "-"
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s ago\n",
			name, d.Address, profile, d.RSSI, lastSeen)
	}
	return w.Flush()
}
