package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/franz/music-curator/internal/identity"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

const (
	testDirID = "d-0123456789abcdef"
	testHash  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type fakeClient struct {
	fingerprintCalls int
	metadataCalls    int
	releases         []provider.Release
}

func (f *fakeClient) Name() string    { return "fake" }
func (f *fakeClient) Version() string { return "fake-1" }

func (f *fakeClient) SearchByFingerprints(ctx context.Context, ids []string) ([]provider.Release, error) {
	f.fingerprintCalls++
	return f.releases, nil
}

func (f *fakeClient) SearchByMetadata(ctx context.Context, artist, album string, trackCount int) ([]provider.Release, error) {
	f.metadataCalls++
	return f.releases, nil
}

func twoTrackEvidence() []identity.TrackEvidence {
	return []identity.TrackEvidence{
		{FingerprintID: "fp-1", SizeBytes: 1000, Path: "/music/in/album/01.flac", TagArtist: "Artist", TagAlbum: "Album"},
		{FingerprintID: "fp-2", SizeBytes: 2000, Path: "/music/in/album/02.flac", TagArtist: "Artist", TagAlbum: "Album"},
	}
}

func matchingRelease(id string) provider.Release {
	return provider.Release{
		Provider: "fake", ID: id, Title: "Album", Artist: "Artist",
		Tracks: []provider.ReleaseTrack{
			{Disc: 1, Position: 1, Title: "One", FingerprintID: "fp-1"},
			{Disc: 1, Position: 2, Title: "Two", FingerprintID: "fp-2"},
		},
	}
}

func weakRelease(id string) provider.Release {
	return provider.Release{
		Provider: "fake", ID: id, Title: "Other", Artist: "Other",
		Tracks: []provider.ReleaseTrack{
			{Disc: 1, Position: 1}, {Disc: 1, Position: 2}, {Disc: 1, Position: 3},
			{Disc: 1, Position: 4}, {Disc: 1, Position: 5},
		},
	}
}

func newTestResolver(client provider.Client) (*Resolver, *store.MemRepository) {
	repo := store.NewMemRepository()
	return New(&Config{Repo: repo, Client: client}), repo
}

func createRecord(t *testing.T, repo *store.MemRepository) *store.DirectoryRecord {
	t.Helper()
	rec, err := repo.GetOrCreate(testDirID, "/music/in/album", testHash, 1)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	return rec
}

func TestAutoAcceptClearMatch(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1"), weakRelease("rel-2")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	res, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence())
	if err != nil {
		t.Fatalf("ResolveDirectory failed: %v", err)
	}
	if res.Outcome != store.StateResolvedAuto {
		t.Fatalf("outcome = %s, want RESOLVED_AUTO (top %.2f)", res.Outcome, res.Top.Score)
	}

	stored, _ := repo.Get(testDirID)
	if stored.PinnedProvider != "fake" || stored.PinnedReleaseID != "rel-1" {
		t.Errorf("pin = %s/%s, want fake/rel-1", stored.PinnedProvider, stored.PinnedReleaseID)
	}
	if stored.PinnedConfidence <= 0 {
		t.Error("pin confidence not recorded")
	}
}

func TestAmbiguityQueuesForPrompt(t *testing.T) {
	// Two equally plausible candidates: a tie never auto-resolves.
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1"), matchingRelease("rel-2")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	res, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence())
	if err != nil {
		t.Fatalf("ResolveDirectory failed: %v", err)
	}
	if res.Outcome != store.StateQueuedPrompt {
		t.Fatalf("outcome = %s, want QUEUED_PROMPT", res.Outcome)
	}
	if res.Reason == "" {
		t.Error("queued resolution has no reason")
	}

	stored, _ := repo.Get(testDirID)
	if stored.PinnedProvider != "" {
		t.Error("ambiguous resolution must not pin")
	}
}

func TestNoCandidatesJails(t *testing.T) {
	fake := &fakeClient{}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	res, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence())
	if err != nil {
		t.Fatalf("ResolveDirectory failed: %v", err)
	}
	if res.Outcome != store.StateJailed {
		t.Fatalf("outcome = %s, want JAILED", res.Outcome)
	}
}

func TestNoEvidenceAtAllJails(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	// No fingerprints and no usable tags: nothing to query with.
	evidence := []identity.TrackEvidence{
		{SizeBytes: 1000, Path: "/music/in/album/01.flac"},
		{SizeBytes: 2000, Path: "/music/in/album/02.flac"},
	}

	res, err := resolver.ResolveDirectory(context.Background(), rec, evidence)
	if err != nil {
		t.Fatalf("ResolveDirectory failed: %v", err)
	}
	if res.Outcome != store.StateJailed {
		t.Fatalf("outcome = %s, want JAILED", res.Outcome)
	}
	if fake.fingerprintCalls != 0 || fake.metadataCalls != 0 {
		t.Errorf("provider queried with no evidence: %d/%d calls",
			fake.fingerprintCalls, fake.metadataCalls)
	}
}

func TestAlreadyResolvedNeverRequeries(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1"), weakRelease("rel-2")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	if _, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence()); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	callsAfterFirst := fake.fingerprintCalls + fake.metadataCalls

	rec, _ = repo.Get(testDirID)
	res, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence())
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !res.Requeued {
		t.Error("already-resolved record not reported as requeued")
	}
	if res.Outcome != store.StateResolvedAuto {
		t.Errorf("outcome = %s, want RESOLVED_AUTO", res.Outcome)
	}
	if fake.fingerprintCalls+fake.metadataCalls != callsAfterFirst {
		t.Error("re-resolving an already-resolved record made provider calls")
	}
}

func TestMetadataFallbackWhenNoFingerprints(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{{
		Provider: "fake", ID: "rel-1", Title: "Album", Artist: "Artist",
		Tracks: []provider.ReleaseTrack{{Disc: 1, Position: 1}, {Disc: 1, Position: 2}},
	}}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	evidence := twoTrackEvidence()
	for i := range evidence {
		evidence[i].FingerprintID = ""
	}

	if _, err := resolver.ResolveDirectory(context.Background(), rec, evidence); err != nil {
		t.Fatalf("ResolveDirectory failed: %v", err)
	}
	if fake.fingerprintCalls != 0 {
		t.Error("fingerprint search ran without fingerprints")
	}
	if fake.metadataCalls != 1 {
		t.Errorf("metadata fallback calls = %d, want 1", fake.metadataCalls)
	}
}

func TestResolveUser(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1"), matchingRelease("rel-2")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	if _, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence()); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if err := resolver.ResolveUser(testDirID, "fake", "rel-2"); err != nil {
		t.Fatalf("ResolveUser failed: %v", err)
	}

	stored, _ := repo.Get(testDirID)
	if stored.State != store.StateResolvedUser {
		t.Errorf("state = %s, want RESOLVED_USER", stored.State)
	}
	if stored.PinnedReleaseID != "rel-2" || stored.PinnedConfidence != 1.0 {
		t.Errorf("pin = %s conf %.2f", stored.PinnedReleaseID, stored.PinnedConfidence)
	}
}

func TestResolveUserOnlyFromQueue(t *testing.T) {
	resolver, repo := newTestResolver(&fakeClient{})
	createRecord(t, repo)

	err := resolver.ResolveUser(testDirID, "fake", "rel-1")
	if !errors.Is(err, util.ErrValidation) {
		t.Errorf("ResolveUser from NEW: got %v, want ErrValidation", err)
	}
}

func TestFetchPinnedRelease(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1"), weakRelease("rel-2")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	if _, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence()); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	rec, _ = repo.Get(testDirID)

	rel, err := resolver.FetchPinnedRelease(context.Background(), rec, twoTrackEvidence())
	if err != nil {
		t.Fatalf("FetchPinnedRelease failed: %v", err)
	}
	if rel.ID != rec.PinnedReleaseID {
		t.Errorf("fetched %s, pin is %s", rel.ID, rec.PinnedReleaseID)
	}
}

func TestFetchPinnedReleaseGone(t *testing.T) {
	fake := &fakeClient{releases: []provider.Release{matchingRelease("rel-1"), weakRelease("rel-2")}}
	resolver, repo := newTestResolver(fake)
	rec := createRecord(t, repo)

	if _, err := resolver.ResolveDirectory(context.Background(), rec, twoTrackEvidence()); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	rec, _ = repo.Get(testDirID)

	fake.releases = []provider.Release{weakRelease("rel-2")}
	_, err := resolver.FetchPinnedRelease(context.Background(), rec, twoTrackEvidence())
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestScoreOrderingDeterministic(t *testing.T) {
	releases := []provider.Release{matchingRelease("rel-b"), matchingRelease("rel-a")}
	scored := scoreCandidates(releases, twoTrackEvidence())
	if scored[0].Release.ID != "rel-a" {
		t.Errorf("tie not broken by release id: first is %s", scored[0].Release.ID)
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		tier  string
	}{
		{0.90, TierHigh},
		{0.85, TierHigh},
		{0.84, TierMedium},
		{0.60, TierMedium},
		{0.59, TierLow},
	}
	for _, tc := range cases {
		if got := tierFor(tc.score); got != tc.tier {
			t.Errorf("tierFor(%.2f) = %s, want %s", tc.score, got, tc.tier)
		}
	}
}
