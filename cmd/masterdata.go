package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

var masterdataRefresh bool

var masterdataCmd = &cobra.Command{
	Use:     "masterdata",
	Aliases: []string{"md"},
	Short:   "Show cached projects, activities and leave types",
	Args:    cobra.NoArgs,
	RunE:    withApp(runMasterdata),
}

func init() {
	masterdataCmd.Flags().BoolVar(&masterdataRefresh, "refresh", false, "Fetch fresh lists from the HR system first")
}

func runMasterdata(cmd *cobra.Command, args []string, a *app) error {
	if masterdataRefresh && !offline {
		eng, err := a.engine(cmd.Context())
		if err != nil {
			return userError(err)
		}
		if err := eng.SyncMasterData(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Refresh failed, showing cached lists: %v\n", err)
		}
	}

	store, err := a.ledger.Load()
	if err != nil {
		return storageError(err)
	}
	printReferences(a.out, "Projects", store.Projects)
	printReferences(a.out, "Activities", store.Activities)
	printReferences(a.out, "Leave types", store.LeaveTypes)
	return nil
}

func printReferences(w io.Writer, title string, refs []model.Reference) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d)", title, len(refs))))
	if len(refs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  none cached"))
	}
	for _, r := range refs {
		if r.Name != "" && r.Name != r.ID {
			fmt.Fprintf(w, "  %s  %s\n", r.ID, dimStyle.Render(r.Name))
		} else {
			fmt.Fprintf(w, "  %s\n", r.ID)
		}
	}
}
