package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/util"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or purge the provider response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts per cache namespace",
	RunE:  runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cache entry",
	RunE:  runCachePurge,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

func openCache() (*provider.Cache, error) {
	cache, err := provider.OpenCache(viper.GetString("cache-db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return cache, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	setupLogging()

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	stats, err := cache.Stats()
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		util.InfoLog("Cache is empty")
		return nil
	}

	namespaces := make([]string, 0, len(stats))
	for ns := range stats {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	total := 0
	for _, ns := range namespaces {
		fmt.Printf("%-12s %d\n", ns, stats[ns])
		total += stats[ns]
	}
	util.InfoLog("%d entries total (schema v%d)", total, provider.CacheSchemaVersion)
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	setupLogging()

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Purge(); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	util.SuccessLog("Cache purged")
	return nil
}
