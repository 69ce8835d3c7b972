package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

var showStates = []store.State{
	store.StateNew,
	store.StateQueuedPrompt,
	store.StateJailed,
	store.StateResolvedAuto,
	store.StateResolvedUser,
	store.StatePlanned,
	store.StateApplied,
	store.StateFailed,
}

var showCmd = &cobra.Command{
	Use:   "show [state]",
	Short: "List directory records, optionally filtered by state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	setupLogging()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	states := showStates
	if len(args) == 1 {
		s := store.State(args[0])
		valid := false
		for _, known := range showStates {
			if s == known {
				valid = true
			}
		}
		if !valid {
			return fmt.Errorf("unknown state %q", args[0])
		}
		states = []store.State{s}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DIR ID\tSTATE\tPIN\tCONF\tPATH")

	total := 0
	for _, s := range states {
		records, err := db.ListByState(s)
		if err != nil {
			return err
		}
		for _, rec := range records {
			pin := "-"
			conf := "-"
			if rec.PinnedProvider != "" {
				pin = fmt.Sprintf("%s/%s", rec.PinnedProvider, rec.PinnedReleaseID)
				conf = fmt.Sprintf("%.2f", rec.PinnedConfidence)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.DirID, rec.State, pin, conf, rec.LastSeenPath)
			total++
		}
	}
	w.Flush()

	util.InfoLog("%d records", total)
	return nil
}
