package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/music-curator/internal/metrics"
	"github.com/franz/music-curator/internal/util"
)

// fakeClient counts calls and returns canned releases
type fakeClient struct {
	fingerprintCalls int
	metadataCalls    int
	releases         []Release
	err              error
}

func (f *fakeClient) Name() string    { return "fake" }
func (f *fakeClient) Version() string { return "fake-1" }

func (f *fakeClient) SearchByFingerprints(ctx context.Context, ids []string) ([]Release, error) {
	f.fingerprintCalls++
	return f.releases, f.err
}

func (f *fakeClient) SearchByMetadata(ctx context.Context, artist, album string, trackCount int) ([]Release, error) {
	f.metadataCalls++
	return f.releases, f.err
}

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testRelease(id string) Release {
	return Release{
		Provider: "fake", ID: id, Title: "Album", Artist: "Artist",
		Tracks: []ReleaseTrack{{Disc: 1, Position: 1, Title: "Track", RecordingID: "rec-1"}},
	}
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	fake := &fakeClient{releases: []Release{testRelease("rel-1")}}
	collector := metrics.NewCollector()
	client := NewCachedClient(fake, openTestCache(t), false, collector)
	ctx := context.Background()

	if _, err := client.SearchByFingerprints(ctx, []string{"b", "a"}); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	releases, err := client.SearchByFingerprints(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	if fake.fingerprintCalls != 1 {
		t.Errorf("provider called %d times, want 1", fake.fingerprintCalls)
	}
	if collector.Get("cache.hit") != 1 || collector.Get("cache.miss") != 1 {
		t.Errorf("hit/miss = %d/%d, want 1/1",
			collector.Get("cache.hit"), collector.Get("cache.miss"))
	}
	if len(releases) != 1 || releases[0].ID != "rel-1" {
		t.Errorf("cached result mismatch: %+v", releases)
	}
}

func TestMetadataKeyNormalized(t *testing.T) {
	fake := &fakeClient{releases: []Release{testRelease("rel-1")}}
	client := NewCachedClient(fake, openTestCache(t), false, metrics.NewCollector())
	ctx := context.Background()

	if _, err := client.SearchByMetadata(ctx, "  The Artist ", "Album", 10); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if _, err := client.SearchByMetadata(ctx, "the artist", "ALBUM", 10); err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	if fake.metadataCalls != 1 {
		t.Errorf("provider called %d times, want 1", fake.metadataCalls)
	}
}

func TestOfflineMissFailsBeforeAnyCall(t *testing.T) {
	fake := &fakeClient{releases: []Release{testRelease("rel-1")}}
	client := NewCachedClient(fake, openTestCache(t), true, metrics.NewCollector())

	_, err := client.SearchByFingerprints(context.Background(), []string{"a"})
	if !errors.Is(err, util.ErrNetworkRequired) {
		t.Errorf("got %v, want ErrNetworkRequired", err)
	}
	if fake.fingerprintCalls != 0 {
		t.Errorf("offline miss reached the provider: %d calls", fake.fingerprintCalls)
	}
}

func TestOfflineHitServedFromCache(t *testing.T) {
	cache := openTestCache(t)
	fake := &fakeClient{releases: []Release{testRelease("rel-1")}}
	ctx := context.Background()

	online := NewCachedClient(fake, cache, false, metrics.NewCollector())
	if _, err := online.SearchByFingerprints(ctx, []string{"a"}); err != nil {
		t.Fatalf("warmup search failed: %v", err)
	}

	offline := NewCachedClient(fake, cache, true, metrics.NewCollector())
	releases, err := offline.SearchByFingerprints(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("offline hit failed: %v", err)
	}
	if len(releases) != 1 || releases[0].ID != "rel-1" {
		t.Errorf("offline result mismatch: %+v", releases)
	}
	if fake.fingerprintCalls != 1 {
		t.Errorf("offline hit reached the provider: %d calls", fake.fingerprintCalls)
	}
}

func TestErrorsNeverCached(t *testing.T) {
	fake := &fakeClient{err: errors.New("provider down")}
	client := NewCachedClient(fake, openTestCache(t), false, metrics.NewCollector())
	client.retryCfg = &util.RetryConfig{MaxAttempts: 1, InitialWait: 0, MaxWait: 0}
	ctx := context.Background()

	if _, err := client.SearchByFingerprints(ctx, []string{"a"}); err == nil {
		t.Fatal("expected provider error")
	}

	fake.err = nil
	fake.releases = []Release{testRelease("rel-1")}
	releases, err := client.SearchByFingerprints(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if len(releases) != 1 {
		t.Errorf("failure was cached: got %+v", releases)
	}
	if fake.fingerprintCalls != 2 {
		t.Errorf("provider called %d times, want 2", fake.fingerprintCalls)
	}
}

func TestEmptyResultIsCached(t *testing.T) {
	fake := &fakeClient{releases: []Release{}}
	client := NewCachedClient(fake, openTestCache(t), false, metrics.NewCollector())
	ctx := context.Background()

	if _, err := client.SearchByFingerprints(ctx, []string{"a"}); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if _, err := client.SearchByFingerprints(ctx, []string{"a"}); err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	if fake.fingerprintCalls != 1 {
		t.Errorf("empty result not cached: %d provider calls", fake.fingerprintCalls)
	}
}

func TestDeterministicEviction(t *testing.T) {
	cache := openTestCache(t)
	cache.SetNamespaceLimit(NSRelease, 2)

	for _, key := range []string{"k-c", "k-a", "k-b"} {
		if err := cache.Put(NSRelease, key, []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Only the first two keys in sort order survive, regardless of
	// insertion order.
	for _, key := range []string{"k-a", "k-b"} {
		if _, ok, _ := cache.Get(NSRelease, key); !ok {
			t.Errorf("key %s evicted, should survive", key)
		}
	}
	if _, ok, _ := cache.Get(NSRelease, "k-c"); ok {
		t.Error("key k-c survived, should be evicted")
	}
}

// '#' and '?' are legal in cache paths; the open must not URI-parse them
func TestOpenCachePathWithSpecialCharacters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run#01?x")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	path := filepath.Join(dir, "cache.db")

	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	if err := cache.Put(NSRelease, "k1", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	cache.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file not created at the named path: %v", err)
	}

	cache, err = OpenCache(path)
	if err != nil {
		t.Fatalf("failed to reopen cache: %v", err)
	}
	defer cache.Close()

	value, ok, err := cache.Get(NSRelease, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(value) != "v1" {
		t.Errorf("entry did not persist at special-character path: ok=%v value=%q", ok, value)
	}
}

func TestPurgeAndStats(t *testing.T) {
	cache := openTestCache(t)
	cache.Put(NSRelease, "k1", []byte("v"))
	cache.Put(NSDecision, "k2", []byte("v"))

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[NSRelease] != 1 || stats[NSDecision] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}

	if err := cache.Purge(); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	stats, _ = cache.Stats()
	if len(stats) != 0 {
		t.Errorf("cache not empty after purge: %v", stats)
	}
}
