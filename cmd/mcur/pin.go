package main

import (
	"github.com/spf13/cobra"

	"github.com/franz/music-curator/internal/resolve"
	"github.com/franz/music-curator/internal/util"
)

var pinCmd = &cobra.Command{
	Use:   "pin <dir-id> <provider> <release-id>",
	Short: "Confirm a queued directory's release by hand",
	Long: `Pin a QUEUED_PROMPT directory to the given provider release, moving it
to RESOLVED_USER. Use "mcur show QUEUED_PROMPT" to list directories
waiting for confirmation.`,
	Args: cobra.ExactArgs(3),
	RunE: runPin,
}

func init() {
	rootCmd.AddCommand(pinCmd)
}

func runPin(cmd *cobra.Command, args []string) error {
	setupLogging()

	dirID, providerName, releaseID := args[0], args[1], args[2]

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	resolver := resolve.New(&resolve.Config{Repo: db})
	if err := resolver.ResolveUser(dirID, providerName, releaseID); err != nil {
		return err
	}

	util.SuccessLog("Pinned %s -> %s/%s", dirID, providerName, releaseID)
	return nil
}
