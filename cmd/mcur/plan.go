package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/music-curator/internal/canon"
	"github.com/franz/music-curator/internal/enrich"
	"github.com/franz/music-curator/internal/metrics"
	"github.com/franz/music-curator/internal/plan"
	"github.com/franz/music-curator/internal/report"
	"github.com/franz/music-curator/internal/resolve"
	"github.com/franz/music-curator/internal/scan"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

var planCmd = &cobra.Command{
	Use:   "plan <dir-id>...",
	Short: "Build deterministic reorganization plans for resolved directories",
	Long: `Compute the plan and tag patch artifacts for each resolved directory
and write them under artifacts/. Planning is deterministic: the same
pinned release and directory content always produce byte-identical
artifacts. Pass --all to plan every resolved directory.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().Bool("all", false, "Plan every RESOLVED_AUTO and RESOLVED_USER directory")
	planCmd.Flags().Bool("offline", false, "Never touch the network; fail on cache misses")
	planCmd.Flags().String("dest-root", "", "Destination library root (required)")
	planCmd.Flags().String("non-audio", string(plan.NonAudioMoveWithAlbum),
		"Sidecar policy: MOVE_WITH_ALBUM, LEAVE_IN_PLACE or DELETE")
	planCmd.Flags().String("on-conflict", string(plan.ConflictFail),
		"Conflict policy: FAIL, SKIP or RENAME")
	planCmd.Flags().Bool("allow-user-resolved", false, "Enrich tags for user-confirmed directories too")
	planCmd.Flags().Bool("overwrite-tags", false, "Allow tag writes to replace existing values")
	planCmd.MarkFlagRequired("dest-root")
}

func runPlan(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := context.Background()

	all, _ := cmd.Flags().GetBool("all")
	offline, _ := cmd.Flags().GetBool("offline")
	destRoot, _ := cmd.Flags().GetString("dest-root")
	nonAudio, _ := cmd.Flags().GetString("non-audio")
	onConflict, _ := cmd.Flags().GetString("on-conflict")
	allowUser, _ := cmd.Flags().GetBool("allow-user-resolved")
	overwrite, _ := cmd.Flags().GetBool("overwrite-tags")

	if !all && len(args) == 0 {
		return fmt.Errorf("provide directory ids or --all")
	}
	absRoot, err := filepath.Abs(destRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve destination root: %w", err)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	collector := metrics.NewCollector()
	client, cache, mb, err := openCachedClient(offline, collector)
	if err != nil {
		return err
	}
	defer cache.Close()
	defer mb.Close()

	logger := newEventLogger()
	defer logger.Close()

	resolver := resolve.New(&resolve.Config{Repo: db, Client: client})

	records, err := planTargets(db, all, args)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		util.InfoLog("Nothing to plan")
		return nil
	}

	artifactDir := viper.GetString("artifact-dir")
	if artifactDir == "" {
		artifactDir = "artifacts"
	}
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	planned := 0
	for _, rec := range records {
		if err := planOne(ctx, db, resolver, logger, rec, &planParams{
			destRoot:    absRoot,
			artifactDir: artifactDir,
			nonAudio:    plan.NonAudioPolicy(nonAudio),
			onConflict:  plan.ConflictPolicy(onConflict),
			allowUser:   allowUser,
			overwrite:   overwrite,
		}); err != nil {
			util.ErrorLog("Failed to plan %s: %v", rec.DirID, err)
			continue
		}
		planned++
	}

	util.SuccessLog("Planned %d of %d directories, artifacts in %s", planned, len(records), artifactDir)
	return nil
}

type planParams struct {
	destRoot    string
	artifactDir string
	nonAudio    plan.NonAudioPolicy
	onConflict  plan.ConflictPolicy
	allowUser   bool
	overwrite   bool
}

func planTargets(db *store.Store, all bool, ids []string) ([]*store.DirectoryRecord, error) {
	if !all {
		records := make([]*store.DirectoryRecord, 0, len(ids))
		for _, id := range ids {
			rec, err := db.Get(id)
			if err != nil {
				return nil, fmt.Errorf("directory %s: %w", id, err)
			}
			records = append(records, rec)
		}
		return records, nil
	}

	auto, err := db.ListByState(store.StateResolvedAuto)
	if err != nil {
		return nil, err
	}
	user, err := db.ListByState(store.StateResolvedUser)
	if err != nil {
		return nil, err
	}
	return append(auto, user...), nil
}

func planOne(ctx context.Context, db *store.Store, resolver *resolve.Resolver, logger *report.EventLogger, rec *store.DirectoryRecord, p *planParams) error {
	evidence, err := scan.ScanDirectory(rec.LastSeenPath)
	if err != nil {
		return err
	}

	rel, err := resolver.FetchPinnedRelease(ctx, rec, evidence)
	if err != nil {
		return err
	}

	pl, err := plan.PlanDirectory(&plan.Request{
		Record:         rec,
		Release:        rel,
		Tracks:         evidence,
		Canonicalizer:  canon.Default{},
		DestRoot:       p.destRoot,
		NonAudioPolicy: p.nonAudio,
		ConflictPolicy: p.onConflict,
	})
	if err != nil {
		return err
	}

	patch, err := enrich.BuildTagPatch(pl, rel, rec.State, enrich.Options{
		AllowUserResolved: p.allowUser,
		AllowOverwrite:    p.overwrite,
	})
	if err != nil {
		return err
	}

	planPath := filepath.Join(p.artifactDir, fmt.Sprintf("plan-%s.json", rec.DirID))
	if err := pl.Save(planPath); err != nil {
		return err
	}

	patchData, err := patch.Canonical()
	if err != nil {
		return err
	}
	patchPath := filepath.Join(p.artifactDir, fmt.Sprintf("tagpatch-%s.json", rec.DirID))
	if err := os.WriteFile(patchPath, patchData, 0644); err != nil {
		return fmt.Errorf("failed to write tag patch artifact: %w", err)
	}

	// The pin is already on the record; passing nil leaves it untouched.
	if err := db.SetState(rec.DirID, store.StatePlanned, nil, ""); err != nil {
		return err
	}

	hash, err := pl.Hash()
	if err != nil {
		return err
	}
	logger.LogPlan(rec.DirID, pl.SourcePath, pl.DestinationPath, pl.Provider, pl.ReleaseID)
	util.InfoLog("Planned %s: %d operations -> %s (plan %s)", rec.DirID, len(pl.Operations), pl.DestinationPath, hash[:12])
	return nil
}
