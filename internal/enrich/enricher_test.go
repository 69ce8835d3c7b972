package enrich

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/franz/music-curator/internal/plan"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

const (
	testDirID = "d-0123456789abcdef"
	testHash  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func testPlan() *plan.Plan {
	return &plan.Plan{
		DirID:           testDirID,
		SourcePath:      "/music/in/album",
		SignatureHash:   testHash,
		Provider:        "fake",
		ReleaseID:       "rel-1",
		DestinationPath: "/music/library/Artist/Album",
		Operations: []plan.FileOp{
			{Disc: 1, TrackPosition: 1,
				SourcePath:      "/music/in/album/a.flac",
				DestinationPath: "/music/library/Artist/Album/01 - One.flac",
				Title:           "One"},
			{Disc: 1, TrackPosition: 2,
				SourcePath:      "/music/in/album/b.flac",
				DestinationPath: "/music/library/Artist/Album/02 - Two.flac",
				Title:           "Two"},
		},
		NonAudioPolicy: plan.NonAudioMoveWithAlbum,
		ConflictPolicy: plan.ConflictFail,
		PlanVersion:    plan.PlanVersion,
	}
}

func testRelease() *provider.Release {
	return &provider.Release{
		Provider: "fake", ID: "rel-1", Title: "Album", Artist: "Artist", Year: "2001",
		Tracks: []provider.ReleaseTrack{
			{Disc: 1, Position: 1, Title: "One", RecordingID: "rec-1"},
			{Disc: 1, Position: 2, Title: "Two", RecordingID: "rec-2"},
		},
	}
}

func TestRefusalNotResolved(t *testing.T) {
	patch, err := BuildTagPatch(testPlan(), testRelease(), store.StateJailed, Options{})
	if err != nil {
		t.Fatalf("refusal must not be an error: %v", err)
	}
	if patch.Allowed {
		t.Error("patch allowed for unresolved state")
	}
	if patch.Reason != ReasonNotResolved {
		t.Errorf("reason = %q, want %q", patch.Reason, ReasonNotResolved)
	}
	if patch.DirID != testDirID || patch.Version != TagPatchVersion {
		t.Error("refusal patch is not well formed")
	}
}

func TestRefusalUserResolvedWithoutOptIn(t *testing.T) {
	patch, err := BuildTagPatch(testPlan(), testRelease(), store.StateResolvedUser, Options{})
	if err != nil {
		t.Fatalf("refusal must not be an error: %v", err)
	}
	if patch.Allowed {
		t.Error("patch allowed for RESOLVED_USER without opt-in")
	}
	if patch.Reason != ReasonUserOptInRequired {
		t.Errorf("reason = %q, want %q", patch.Reason, ReasonUserOptInRequired)
	}
}

func TestUserResolvedWithOptIn(t *testing.T) {
	patch, err := BuildTagPatch(testPlan(), testRelease(), store.StateResolvedUser,
		Options{AllowUserResolved: true})
	if err != nil {
		t.Fatalf("BuildTagPatch failed: %v", err)
	}
	if !patch.Allowed {
		t.Errorf("opt-in patch refused: %s", patch.Reason)
	}
}

func TestPatchContents(t *testing.T) {
	at := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	patch, err := BuildTagPatch(testPlan(), testRelease(), store.StateResolvedAuto, Options{AppliedAt: at})
	if err != nil {
		t.Fatalf("BuildTagPatch failed: %v", err)
	}
	if !patch.Allowed {
		t.Fatalf("patch refused: %s", patch.Reason)
	}

	if patch.AlbumPatch["album"] != "Album" || patch.AlbumPatch["albumartist"] != "Artist" {
		t.Errorf("album patch = %v", patch.AlbumPatch)
	}
	if patch.AlbumPatch["date"] != "2001" {
		t.Errorf("date = %q", patch.AlbumPatch["date"])
	}
	if patch.AlbumPatch["fake_albumid"] != "rel-1" {
		t.Errorf("provider album id = %q", patch.AlbumPatch["fake_albumid"])
	}

	if len(patch.TrackPatches) != 2 {
		t.Fatalf("expected 2 track patches, got %d", len(patch.TrackPatches))
	}
	tp := patch.TrackPatches[0]
	if tp.SetTags["title"] != "One" || tp.SetTags["tracknumber"] != "1" {
		t.Errorf("track patch tags = %v", tp.SetTags)
	}
	if tp.SetTags["fake_recordingid"] != "rec-1" {
		t.Errorf("recording id = %q", tp.SetTags["fake_recordingid"])
	}

	prov := patch.ProvenanceTags
	if prov["tool.prov.tool"] != ToolName {
		t.Errorf("tool name = %q", prov["tool.prov.tool"])
	}
	if prov["tool.prov.dir_id"] != testDirID {
		t.Errorf("dir id = %q", prov["tool.prov.dir_id"])
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(prov["tool.prov.plan_hash"]) {
		t.Errorf("plan hash %q is not lowercase 64-hex", prov["tool.prov.plan_hash"])
	}
	if prov["tool.prov.applied_at_utc"] != "2026-08-25T09:30:00Z" {
		t.Errorf("applied at = %q", prov["tool.prov.applied_at_utc"])
	}
}

func TestMissingTrackDataIsHardError(t *testing.T) {
	rel := testRelease()
	rel.Tracks = rel.Tracks[:1]

	_, err := BuildTagPatch(testPlan(), rel, store.StateResolvedAuto, Options{})
	if !errors.Is(err, util.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", err)
	}
}

func TestPatchDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	p1, err := BuildTagPatch(testPlan(), testRelease(), store.StateResolvedAuto, Options{AppliedAt: at})
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	p2, _ := BuildTagPatch(testPlan(), testRelease(), store.StateResolvedAuto, Options{AppliedAt: at})

	c1, _ := p1.Canonical()
	c2, _ := p2.Canonical()
	if string(c1) != string(c2) {
		t.Error("identical inputs produced different patch bytes")
	}
}
