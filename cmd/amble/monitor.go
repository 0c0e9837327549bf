package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robomow/amble/internal/mower"
	"github.com/robomow/amble/internal/session"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously monitor the mower",
	Long: `Stay connected and print every telemetry report and connection state
change until interrupted.

The link is kept alive across drops: amble reconnects with backoff and
marks the last report stale until fresh telemetry arrives.`,
	RunE: runMonitor,
}

var monitorInterval time.Duration

func init() {
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Telemetry poll interval (default from config)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorInterval > 0 {
		cfg.PollInterval = monitorInterval
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

	failed := make(chan struct{})
	var failOnce sync.Once
	unsubState := sess.OnStateChange(func(state session.State) {
		fmt.Printf("%s link %s\n", timestamp(), colorState(state))
		if state == session.StateFailed {
			failOnce.Do(func() { close(failed) })
		}
	})
	defer unsubState()

	unsubStatus := sess.SubscribeStatus(func(snap mower.Snapshot) {
		if snap.Stale {
			fmt.Printf("%s %s\n", timestamp(), color.YellowString("last report is stale"))
			return
		}
		printStatusLine(snap.Status)
	})
	defer unsubStatus()

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Disconnect()

	if err := sess.RequestStatus(ctx); err != nil {
		logger.WithError(err).Warn("Initial status request failed")
	}

	select {
	case <-ctx.Done():
		return nil
	case <-failed:
		return fmt.Errorf("%w: gave up reconnecting", session.ErrLinkFailure)
	}
}

func printStatusLine(status mower.Status) {
	line := fmt.Sprintf("%s battery %d%%  %s  %s", timestamp(), status.Battery, colorActivity(status.Activity), status.Mode)
	if status.Charging {
		line += "  " + color.YellowString("charging")
	}
	if status.ErrorCode != nil {
		line += "  " + color.RedString("error %d", *status.ErrorCode)
	}
	if status.NextStart != nil {
		line += fmt.Sprintf("  next start %s", status.NextStart.Local().Format("Mon 15:04"))
	}
	fmt.Println(line)
}

func colorState(state session.State) string {
	switch state {
	case session.StateReady:
		return color.GreenString(state.String())
	case session.StateReconnecting, session.StateConnecting, session.StateAuthenticating:
		return color.YellowString(state.String())
	case session.StateFailed:
		return color.RedString(state.String())
	}
	return state.String()
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
