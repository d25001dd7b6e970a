package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// offline keeps a command from contacting the HR system.
var offline bool

var rootCmd = &cobra.Command{
	Use:   "tta",
	Short: "Offline time tracking against a Frappe HR site",
	Long: `tta records punches and leave requests locally and replays them to the
HR system whenever it is reachable. Queued work is stored in ~/.tta/ and
survives restarts; nothing is lost while offline.

punch, leave, status and list also submit whatever is still queued, unless
--offline is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main. It is the only place the
// process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Do not contact the HR system")

	rootCmd.AddCommand(punchCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(masterdataCmd)
	rootCmd.AddCommand(attendanceCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
