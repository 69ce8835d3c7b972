package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franz/music-curator/internal/util"
)

var unjailCmd = &cobra.Command{
	Use:   "unjail <dir-id>...",
	Short: "Return jailed directories to NEW for another resolve attempt",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnjail,
}

func init() {
	rootCmd.AddCommand(unjailCmd)
}

func runUnjail(cmd *cobra.Command, args []string) error {
	setupLogging()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	failed := 0
	for _, dirID := range args {
		if err := db.Unjail(dirID); err != nil {
			util.ErrorLog("Cannot unjail %s: %v", dirID, err)
			failed++
			continue
		}
		util.InfoLog("Unjailed %s", dirID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d unjails failed", failed, len(args))
	}
	util.SuccessLog("Unjailed %d directories", len(args))
	return nil
}
