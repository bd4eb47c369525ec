package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/andresmejia3/facemosaic/internal/store"
	"github.com/andresmejia3/facemosaic/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past jobs recorded in the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		jobs, err := db.ListJobs(cmd.Context(), historyLimit)
		if err != nil {
			utils.ShowError("Failed to list jobs", err, nil)
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found in database.")
			return nil
		}
		fmt.Println(renderHistory(jobs, time.Now()))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of most recent jobs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func renderHistory(jobs []store.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		took := "-"
		if j.FinishedAt != nil {
			took = j.FinishedAt.Sub(j.StartedAt).Round(time.Second).String()
		}
		detail := ""
		if j.Status != store.StatusSucceeded {
			detail = j.ErrorKind
		} else if j.OutputBytes > 0 {
			detail = humanize.Bytes(uint64(j.OutputBytes))
		}
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10),
			humanize.RelTime(j.StartedAt, now, "ago", "from now"),
			statusLabel(j.Status),
			filepath.Base(j.InputPath),
			filepath.Base(j.OutputPath),
			humanize.Comma(int64(j.Frames)),
			humanize.Comma(int64(j.Detections)),
			took,
			detail,
		})
	}
	return renderTable(
		[]string{"ID", "STARTED", "STATUS", "INPUT", "OUTPUT", "FRAMES", "FACES", "TOOK", "DETAIL"},
		rows,
		0, 5, 6, 7,
	)
}

func statusLabel(status string) string {
	switch status {
	case store.StatusSucceeded:
		return "✅ " + status
	case store.StatusFailed:
		return "❌ " + status
	case store.StatusCanceled:
		return "🛑 " + status
	default:
		return "⏳ " + status
	}
}
