package main

import (
	"fmt"

	"github.com/franz/music-curator/internal/metrics"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/report"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
	"github.com/spf13/viper"
)

// openStore opens the state database configured via --db
func openStore() (*store.Store, error) {
	dbPath := viper.GetString("db")
	util.DebugLog("Opening state database: %s", dbPath)
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return s, nil
}

// openCachedClient builds the cache-wrapped MusicBrainz client
func openCachedClient(offline bool, collector *metrics.Collector) (*provider.CachedClient, *provider.Cache, *provider.MusicBrainzClient, error) {
	cachePath := viper.GetString("cache-db")
	cache, err := provider.OpenCache(cachePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	mb := provider.NewMusicBrainzClient()
	client := provider.NewCachedClient(mb, cache, offline, collector)
	return client, cache, mb, nil
}

// newEventLogger creates the JSONL audit logger under artifacts/
func newEventLogger() *report.EventLogger {
	level := report.LevelInfo
	if viper.GetBool("quiet") {
		level = report.LevelWarning
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug
	}

	dir := viper.GetString("artifact-dir")
	if dir == "" {
		dir = "artifacts"
	}
	logger, err := report.NewEventLogger(dir, level)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return logger
}
