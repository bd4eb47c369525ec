package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/facemosaic/internal/artifacts"
	"github.com/andresmejia3/facemosaic/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (job history, leftover temp files)",
	Long: `Clears facemosaic state. By default it removes leftover temp files and, when a
database is configured, drops the job history. Use flags to clear specific components.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		explicitDB := resetDB
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = Cfg.HistoryEnabled()
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			db, err := openStore(cmd.Context(), explicitDB)
			if err != nil {
				return err
			}
			if db != nil && confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the job history table?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			dir := Cfg.Paths.TempDir
			if dir == "" {
				dir = os.TempDir()
			}
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete leftover facemosaic files in %s?", dir)) {
				fmt.Println("🗑️  Clearing Temp Files...")
				removed, err := artifacts.Sweep(dir)
				for _, p := range removed {
					fmt.Printf("   removed %s\n", p)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to remove some files: %v\n", err)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Drop the job history table")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Remove temp files left behind by killed runs")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
