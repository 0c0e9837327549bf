package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robomow/amble/internal/wire"
)

// The control commands share one implementation: connect, submit,
// disconnect. Each differs only in the wire command it issues.

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start mowing now",
	Long: `Tell the mower to start mowing immediately.

The mower must not be waiting for its safety PIN; check the keypad if the
command is refused.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, wire.CommandStart, "Mower is starting")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the mower where it is",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, wire.CommandPause, "Mower paused")
	},
}

var dockCmd = &cobra.Command{
	Use:   "dock",
	Short: "Send the mower back to its charging station",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, wire.CommandDock, "Mower is returning to the charging station")
	},
}

var parkCmd = &cobra.Command{
	Use:   "park",
	Short: "Park the mower until further notice",
	Long: `Send the mower to the charging station and keep it there.

The mower stays parked until 'amble resume' restores the schedule or
'amble start' launches it manually.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, wire.CommandParkIndefinitely, "Mower is parking until further notice")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the programmed mowing schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, wire.CommandResumeSchedule, "Schedule resumed")
	},
}

func runControl(cmd *cobra.Command, command wire.Command, successMsg string) error {
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

	progress.Callback()("Sending " + command.String())
	err = sess.Submit(ctx, command)
	progress.Callback()("Done")
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", color.GreenString("OK"), successMsg)
	return nil
}
