package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/music-curator/internal/apply"
	"github.com/franz/music-curator/internal/enrich"
	"github.com/franz/music-curator/internal/plan"
	"github.com/franz/music-curator/internal/tags"
	"github.com/franz/music-curator/internal/util"
)

var applyCmd = &cobra.Command{
	Use:   "apply <dir-id>...",
	Short: "Execute plan artifacts: move files, write tags, commit state",
	Long: `Load each directory's plan and tag patch artifacts and execute them.
Every plan is re-validated against the live directory first; a directory
whose content changed since planning fails instead of applying a stale
layout. Re-running a completed apply is a no-op.

Any execution failure rolls back every move made in that run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().String("allowed-root", "", "Root every destination must live under (required)")
	applyCmd.Flags().Bool("skip-tags", false, "Move files without writing any tags")
	applyCmd.MarkFlagRequired("allowed-root")
}

func runApply(cmd *cobra.Command, args []string) error {
	setupLogging()

	allowedRoot, _ := cmd.Flags().GetString("allowed-root")
	skipTags, _ := cmd.Flags().GetBool("skip-tags")

	absRoot, err := filepath.Abs(allowedRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve allowed root: %w", err)
	}

	if !skipTags {
		if err := tags.ValidateFFmpeg(); err != nil {
			return fmt.Errorf("tag writing needs ffmpeg (or pass --skip-tags): %w", err)
		}
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger()
	defer logger.Close()

	applier := apply.New(&apply.Config{
		Repo:         db,
		TagWriter:    tags.NewFFmpegWriter(),
		AllowedRoots: []string{absRoot},
		Logger:       logger,
	})

	artifactDir := viper.GetString("artifact-dir")
	if artifactDir == "" {
		artifactDir = "artifacts"
	}

	failed := 0
	for _, dirID := range args {
		rep, err := applyOne(applier, artifactDir, dirID, skipTags)
		if err != nil {
			util.ErrorLog("Apply failed for %s: %v", dirID, err)
			failed++
		}
		if rep != nil {
			printApplyReport(dirID, rep)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d applies failed", failed, len(args))
	}
	util.SuccessLog("Applied %d directories", len(args))
	return nil
}

func applyOne(applier *apply.Applier, artifactDir, dirID string, skipTags bool) (*apply.Report, error) {
	planPath := filepath.Join(artifactDir, fmt.Sprintf("plan-%s.json", dirID))
	p, err := plan.Load(planPath)
	if err != nil {
		return nil, err
	}

	var patch *enrich.TagPatch
	if !skipTags {
		patchPath := filepath.Join(artifactDir, fmt.Sprintf("tagpatch-%s.json", dirID))
		patch, err = loadTagPatch(patchPath)
		if err != nil {
			return nil, err
		}
	}

	return applier.ApplyPlan(p, patch)
}

func loadTagPatch(path string) (*enrich.TagPatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // planned without a patch, moves only
		}
		return nil, fmt.Errorf("failed to read tag patch artifact: %w", err)
	}
	var patch enrich.TagPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("failed to parse tag patch artifact: %w", err)
	}
	return &patch, nil
}

func printApplyReport(dirID string, rep *apply.Report) {
	moved, skipped, rolledBack := 0, 0, 0
	for _, op := range rep.FileOps {
		switch op.Outcome {
		case apply.OpMoved:
			moved++
		case apply.OpSkipped:
			skipped++
		case apply.OpRolledBack:
			rolledBack++
		}
	}

	switch rep.Status {
	case apply.StatusApplied:
		util.InfoLog("%s: %s (%d moved, %d skipped, %d tag writes)", dirID, rep.Status, moved, skipped, len(rep.TagOps))
	case apply.StatusNoopApplied:
		util.InfoLog("%s: %s", dirID, rep.Status)
	default:
		util.WarnLog("%s: %s (%d moved, %d rolled back)", dirID, rep.Status, moved, rolledBack)
		if rep.RollbackAttempted && !rep.RollbackSuccess {
			util.ErrorLog("%s: rollback incomplete, inspect the filesystem manually", dirID)
		}
	}
	for _, e := range rep.Errors {
		util.WarnLog("  %s", e)
	}
}
