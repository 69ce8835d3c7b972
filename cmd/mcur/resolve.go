package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/music-curator/internal/identity"
	"github.com/franz/music-curator/internal/metrics"
	"github.com/franz/music-curator/internal/resolve"
	"github.com/franz/music-curator/internal/scan"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <directory>...",
	Short: "Identify each directory's release and pin or queue the decision",
	Long: `Scan each directory's audio files, compute its content identity, and
resolve it against the metadata provider. Unambiguous matches are pinned
automatically; ambiguous ones are queued for confirmation; directories
with unusable evidence are jailed.

Already-resolved directories with unchanged content are skipped without
touching the provider or cache.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().Bool("offline", false, "Never touch the network; fail on cache misses")
	resolveCmd.Flags().Float64("floor", 0, "Auto-accept score floor (default 0.85)")
	resolveCmd.Flags().Float64("margin", 0, "Auto-accept lead over runner-up (default 0.10)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := context.Background()

	offline, _ := cmd.Flags().GetBool("offline")
	floor, _ := cmd.Flags().GetFloat64("floor")
	margin, _ := cmd.Flags().GetFloat64("margin")

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

	resolver := resolve.New(&resolve.Config{
		Repo:   db,
		Client: client,
		Floor:  floor,
		Margin: margin,
	})

	var bar *progressbar.ProgressBar
	if len(args) > 1 && !viper.GetBool("verbose") {
		bar = progressbar.Default(int64(len(args)), "resolving")
	}

	outcomes := make(map[store.State]int)
	for _, dir := range args {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", dir, err)
		}

		res, err := resolveOne(ctx, resolver, db, abs)
		if err != nil {
			util.ErrorLog("Failed to resolve %s: %v", abs, err)
			logger.LogResolve("", "error", "", "", 0, err.Error())
			if bar != nil {
				bar.Add(1)
			}
			continue
		}

		outcomes[res.Outcome]++
		score := 0.0
		releaseID := ""
		providerName := ""
		if res.Top != nil {
			score = res.Top.Score
			releaseID = res.Top.Release.ID
			providerName = res.Top.Release.Provider
		}
		logger.LogResolve(res.DirID, string(res.Outcome), providerName, releaseID, score, res.Reason)

		if bar != nil {
			bar.Add(1)
		}
	}

	util.SuccessLog("Resolve complete: %d auto, %d queued, %d jailed, %d skipped",
		outcomes[store.StateResolvedAuto], outcomes[store.StateQueuedPrompt],
		outcomes[store.StateJailed],
		outcomes[store.StateResolvedUser]+outcomes[store.StatePlanned]+outcomes[store.StateApplied])
	util.InfoLog("Provider calls: %d fingerprint, %d metadata; cache: %d hits, %d misses",
		collector.Get("provider.fingerprint_calls"), collector.Get("provider.metadata_calls"),
		collector.Get("cache.hit"), collector.Get("cache.miss"))

	return nil
}

func resolveOne(ctx context.Context, resolver *resolve.Resolver, db *store.Store, dir string) (*resolve.Resolution, error) {
	evidence, err := scan.ScanDirectory(dir)
	if err != nil {
		return nil, err
	}

	dirID, sigHash := identity.ComputeSignature(evidence)
	rec, err := db.GetOrCreate(dirID, dir, sigHash, identity.SignatureVersion)
	if err != nil {
		return nil, err
	}

	return resolver.ResolveDirectory(ctx, rec, evidence)
}
