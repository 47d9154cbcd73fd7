package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(GetContext(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No uploads recorded.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				session := e.Session
				if len(session) > 8 {
					session = session[:8]
				}
				rows = append(rows, []string{
					e.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
					session,
					e.UploadID,
					e.FileName,
					cloud.FormatBytes(e.Size),
					string(e.Status),
					e.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Updated", "Session", "ID", "File", "Size", "Status", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Clear(GetContext())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s entries.\n", strconv.FormatInt(n, 10))
			return nil
		},
	})

	return cmd
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.HistoryPath == "" {
		return nil, errors.New("upload history is disabled (history_path is empty)")
	}
	return history.Open(cfg.HistoryPath)
}
