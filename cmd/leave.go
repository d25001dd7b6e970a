package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var leaveReason string

var leaveCmd = &cobra.Command{
	Use:   "leave <from> <to> <leave-type>",
	Short: "Request leave for an inclusive date range",
	Long: `Leave queues a leave application for the dates from..to (YYYY-MM-DD,
both inclusive) and submits it when the HR system is reachable. A request
the HR system rejects is removed from the queue and reported. Undelivered
requests stay queued, see: tta list`,
	Args:        cobra.ExactArgs(3),
	Annotations: map[string]string{autoSyncAnnotation: "after"},
	RunE:        withApp(runLeave),
}

func init() {
	leaveCmd.Flags().StringVar(&leaveReason, "reason", "", "Reason shown to the approver")
}

func runLeave(cmd *cobra.Command, args []string, a *app) error {
	lr, err := a.recorder().AddLeaveRequest(args[0], args[1], args[2], leaveReason)
	if err != nil {
		return classify(err)
	}
	fmt.Fprintf(a.out, "Leave request %s – %s (%s) queued.\n", lr.From, lr.To, lr.LeaveType)
	return nil
}
