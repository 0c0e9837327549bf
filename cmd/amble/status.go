package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robomow/amble/internal/mower"
	"github.com/robomow/amble/internal/session"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the mower's current status",
	Long: `Connect to the mower, read one telemetry report, and print it.

Shows battery level, current activity, operating mode, any active error,
the next scheduled start, and lifetime statistics.`,
	RunE: runStatus,
}

var statusFormat string

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "Output format (table, json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFormat != "table" && statusFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", statusFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sess, err := newSession(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	progress := NewProgressPrinter("Connecting to "+cfg.Device.Address, "Connecting", cfg.Timeouts.Connect, "Done")
	progress.Start()
	defer progress.Stop()

	if err := sess.Connect(ctx); err != nil {
		progress.Stop()
		return err
	}
	defer sess.Disconnect()

	status, err := awaitStatus(ctx, sess, cfg.Timeouts.Command)
	progress.Callback()("Done")
	if err != nil {
		return err
	}

	if statusFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}
	return displayStatus(status)
}

// awaitStatus solicits telemetry and waits for the first report.
func awaitStatus(ctx context.Context, sess *session.Session, timeout time.Duration) (mower.Status, error) {
	got := make(chan mower.Status, 1)
	unsubscribe := sess.SubscribeStatus(func(snap mower.Snapshot) {
		if snap.Stale {
			return
		}
		select {
		case got <- snap.Status:
		default:
		}
	})
	defer unsubscribe()

	// Telemetry may already be cached from the connection handshake.
	if status, ok, stale := sess.Status(); ok && !stale {
		return status, nil
	}
	if err := sess.RequestStatus(ctx); err != nil {
		return mower.Status{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case status := <-got:
		return status, nil
	case <-timer.C:
		return mower.Status{}, fmt.Errorf("%w: mower sent no telemetry", session.ErrNoResponse)
	case <-ctx.Done():
		return mower.Status{}, ctx.Err()
	}
}

func displayStatus(status mower.Status) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	battery := fmt.Sprintf("%d%%", status.Battery)
	if status.Charging {
		battery += " " + color.YellowString("(charging)")
	}
	fmt.Fprintf(w, "Battery:\t%s\n", battery)
	fmt.Fprintf(w, "Activity:\t%s\n", colorActivity(status.Activity))
	fmt.Fprintf(w, "Mode:\t%s\n", status.Mode)
	fmt.Fprintf(w, "State:\t%s\n", status.State)

	if status.ErrorCode != nil {
		fmt.Fprintf(w, "Error:\t%s\n", color.RedString("code %d", *status.ErrorCode))
	}
	if status.NextStart != nil {
		fmt.Fprintf(w, "Next start:\t%s\n", status.NextStart.Local().Format("Mon 15:04"))
	}

	fmt.Fprintf(w, "Total running:\t%s\n", status.TotalRunning)
	fmt.Fprintf(w, "Total cutting:\t%s\n", status.TotalCutting)
	fmt.Fprintf(w, "Total charging:\t%s\n", status.TotalCharging)
	return w.Flush()
}

func colorActivity(a mower.Activity) string {
	switch a {
	case mower.ActivityMowing, mower.ActivityGoingOut:
		return color.GreenString(a.String())
	case mower.ActivityStoppedInGarden:
		return color.RedString(a.String())
	case mower.ActivityCharging, mower.ActivityGoingHome:
		return color.YellowString(a.String())
	}
	return a.String()
}
