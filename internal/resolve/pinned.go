package resolve

import (
	"context"
	"fmt"

	"github.com/franz/music-curator/internal/identity"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

// FetchPinnedRelease retrieves the full release data for a resolved record's
// pin by re-running the same candidate search the resolver performed. The
// query is identical to the original one, so resolution that went through
// the cache is answered from the cache again and works offline.
func (r *Resolver) FetchPinnedRelease(ctx context.Context, rec *store.DirectoryRecord, tracks []identity.TrackEvidence) (*provider.Release, error) {
	if rec.PinnedProvider == "" || rec.PinnedReleaseID == "" {
		return nil, fmt.Errorf("%w: directory %s has no pinned release", util.ErrValidation, rec.DirID)
	}

	candidates, err := r.gatherCandidates(ctx, tracks)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].Provider == rec.PinnedProvider && candidates[i].ID == rec.PinnedReleaseID {
			return &candidates[i], nil
		}
	}

	return nil, fmt.Errorf("%w: pinned release %s/%s not among provider candidates for %s",
		util.ErrNotFound, rec.PinnedProvider, rec.PinnedReleaseID, rec.DirID)
}
