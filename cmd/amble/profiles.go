package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robomow/amble/internal/wire"
)

// profilesCmd represents the profiles command
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the known device profiles",
	Long: `List the device profiles amble can speak.

A profile describes one mower family's GATT layout: which service and
characteristics it uses, whether it is PIN-protected, and how the PIN is
presented to the device.`,
	RunE: runProfiles,
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMANUFACTURER\tSERVICE\tAUTH")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, p := range wire.Profiles() {
		auth := "none"
		if p.RequiresAuth() {
			auth = p.PINDerivation
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Manufacturer, shortUUID(p.ServiceUUID), auth)
	}
	return w.Flush()
}

func shortUUID(uuid string) string {
	if len(uuid) > 13 {
		return uuid[:13] + "..."
	}
	return uuid
}
