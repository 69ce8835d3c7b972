// Package apply executes a Plan against the filesystem: validate, move,
// write tags, and on any execution failure reverse every move made in the
// same run. There is no two-phase commit between the filesystem and the
// state store; a crash between the two is recovered on the next run through
// the idempotency check.
package apply

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/music-curator/internal/enrich"
	"github.com/franz/music-curator/internal/plan"
	"github.com/franz/music-curator/internal/report"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/tags"
	"github.com/franz/music-curator/internal/util"
)

// Status is the outcome of one apply call
type Status string

const (
	StatusApplied         Status = "APPLIED"
	StatusNoopApplied     Status = "NOOP_ALREADY_APPLIED"
	StatusFailed          Status = "FAILED"
	StatusPartialComplete Status = "PARTIAL_COMPLETE"
)

// FileOpOutcome is the per-file result
type FileOpOutcome string

const (
	OpMoved      FileOpOutcome = "MOVED"
	OpSkipped    FileOpOutcome = "SKIPPED"
	OpRolledBack FileOpOutcome = "ROLLED_BACK"
	OpNotStarted FileOpOutcome = "NOT_STARTED"
)

// FileOpResult records what happened to one planned operation
type FileOpResult struct {
	SourcePath      string
	DestinationPath string // actual destination, after any conflict rename
	Outcome         FileOpOutcome
	Renamed         bool
}

// TagOpResult records one tag write
type TagOpResult struct {
	Path        string
	TagsSet     []string
	TagsSkipped []string
}

// Report is created fresh per apply call; it is never persisted beyond the
// run except as audit fields on the directory record.
type Report struct {
	Status            Status
	FileOps           []FileOpResult
	TagOps            []TagOpResult
	Errors            []string
	RollbackAttempted bool
	RollbackSuccess   bool
}

// Applier validates and executes plans. One apply per dir_id at a time is
// guaranteed structurally: the PLANNED precondition is consumed by the
// first apply, so a concurrent second apply fails preflight instead of
// racing on the filesystem.
type Applier struct {
	repo         store.Repository
	tagWriter    tags.Writer
	allowedRoots []string
	logger       *report.EventLogger

	// moveFile is swapped out by tests to inject mid-sequence failures
	moveFile func(src, dest string) error
}

// Config holds applier configuration
type Config struct {
	Repo         store.Repository
	TagWriter    tags.Writer
	AllowedRoots []string // every destination must resolve under one of these
	Logger       *report.EventLogger
}

// New creates an Applier
func New(cfg *Config) *Applier {
	a := &Applier{
		repo:         cfg.Repo,
		tagWriter:    cfg.TagWriter,
		allowedRoots: cfg.AllowedRoots,
		logger:       cfg.Logger,
	}
	a.moveFile = a.defaultMove
	return a
}

// ApplyPlan executes the plan. The returned report always describes what
// happened; the error is non-nil only for outcomes other than APPLIED and
// NOOP_ALREADY_APPLIED.
func (a *Applier) ApplyPlan(p *plan.Plan, patch *enrich.TagPatch) (*Report, error) {
	rep := &Report{RollbackSuccess: true}

	// Phase 1: preflight. Every problem is collected and reported together;
	// nothing has touched the filesystem yet.
	rec, err := a.preflight(p, patch, rep)
	if err != nil {
		rep.Status = StatusFailed
		rep.Errors = append(rep.Errors, err.Error())
		return rep, err
	}

	// Phase 2: idempotency. All destinations present and no sources left
	// means a prior apply finished but may not have committed state.
	if a.alreadyApplied(p) {
		rep.Status = StatusNoopApplied
		for _, op := range p.Operations {
			rep.FileOps = append(rep.FileOps, FileOpResult{
				SourcePath: op.SourcePath, DestinationPath: op.DestinationPath, Outcome: OpSkipped,
			})
		}
		a.commitState(p, rec, store.StateApplied, string(StatusNoopApplied))
		util.InfoLog("Plan for %s already applied, nothing to do", p.DirID)
		return rep, nil
	}

	// Phase 3: conflict scan. FAIL aborts before the first move; a
	// half-applied layout (destination present, source gone) is flagged for
	// inspection rather than retried blindly.
	resolved, err := a.resolveConflicts(p, rep)
	if err != nil {
		if errors.Is(err, util.ErrPartialCompletion) {
			rep.Status = StatusPartialComplete
		} else {
			rep.Status = StatusFailed
			a.commitState(p, rec, store.StateFailed, string(StatusFailed))
		}
		rep.Errors = append(rep.Errors, err.Error())
		return rep, err
	}

	// Phase 4: moves, in track-position order
	if err := a.executeMoves(p, resolved, rep); err != nil {
		rep.Status = StatusFailed
		rep.Errors = append(rep.Errors, err.Error())
		a.commitState(p, rec, store.StateFailed, string(StatusFailed))
		return rep, err
	}

	// Phase 5: tag writes. A failure here rolls back the moves made above.
	if err := a.writeTags(p, patch, resolved, rep); err != nil {
		rep.Status = StatusFailed
		rep.Errors = append(rep.Errors, err.Error())
		a.rollback(resolved, rep)
		a.commitState(p, rec, store.StateFailed, string(StatusFailed))
		return rep, fmt.Errorf("%w: %v", util.ErrTagWrite, err)
	}

	// Phase 6: sidecars, only after every audio move succeeded
	a.handleNonAudio(p, rep)

	// Remove the source directory if the apply emptied it
	if err := os.Remove(p.SourcePath); err == nil {
		util.DebugLog("Removed empty source directory %s", p.SourcePath)
	}

	rep.Status = StatusApplied
	a.commitState(p, rec, store.StateApplied, string(StatusApplied))
	util.SuccessLog("Applied plan for %s: %d files moved", p.DirID, len(rep.FileOps))
	return rep, nil
}

// preflight validates the plan, patch and record together. All failures
// accumulate; the first error returned carries every problem found.
func (a *Applier) preflight(p *plan.Plan, patch *enrich.TagPatch, rep *Report) (*store.DirectoryRecord, error) {
	var v util.ValidationErrors

	if err := p.Validate(); err != nil {
		v.Add("plan invalid: %v", err)
	}

	if patch != nil {
		if patch.Version != enrich.TagPatchVersion {
			v.Add("tag patch version %d is not supported (want %d)", patch.Version, enrich.TagPatchVersion)
		}
		if patch.DirID != p.DirID {
			v.Add("tag patch dir_id %q does not match plan dir_id %q", patch.DirID, p.DirID)
		}
		if patch.Provider != p.Provider {
			v.Add("tag patch provider %q does not match plan provider %q", patch.Provider, p.Provider)
		}
		if patch.ReleaseID != p.ReleaseID {
			v.Add("tag patch release_id %q does not match plan release_id %q", patch.ReleaseID, p.ReleaseID)
		}
	}

	// Destination containment against the configured roots
	for i, op := range p.Operations {
		if !a.underAllowedRoot(op.DestinationPath) {
			v.Add("operation %d destination %q is outside every allowed root", i, op.DestinationPath)
		}
	}

	rec, err := a.repo.Get(p.DirID)
	if err != nil {
		v.Add("directory record %s not found", p.DirID)
	} else {
		if rec.State != store.StatePlanned {
			v.Add("directory %s is %s, not PLANNED", p.DirID, rec.State)
		}
		if rec.SignatureHash != p.SignatureHash {
			v.Add("stale plan: directory signature %s does not match plan signature %s (directory mutated since planning)",
				rec.SignatureHash, p.SignatureHash)
		}
	}

	if err := v.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *Applier) underAllowedRoot(path string) bool {
	if plan.HasDotDot(path) {
		return false
	}
	for _, root := range a.allowedRoots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) || path == root {
			return true
		}
	}
	return false
}

// alreadyApplied reports whether the plan's effects are fully present:
// no planned source exists and every destination does. Only the two
// extremes get a special case; anything in between goes through the
// ordinary conflict scan.
func (a *Applier) alreadyApplied(p *plan.Plan) bool {
	for _, op := range p.Operations {
		if _, err := os.Stat(op.SourcePath); err == nil {
			return false
		}
		if _, err := os.Stat(op.DestinationPath); err != nil {
			return false
		}
	}
	return true
}

// resolvedOp is an operation with its conflict-adjusted destination
type resolvedOp struct {
	op      plan.FileOp
	dest    string
	skip    bool
	renamed bool
	moved   bool
}

// resolveConflicts applies the plan's conflict policy to each operation
// before any move begins
func (a *Applier) resolveConflicts(p *plan.Plan, rep *Report) ([]*resolvedOp, error) {
	resolved := make([]*resolvedOp, 0, len(p.Operations))

	// A destination that exists while its source is gone is a half-applied
	// layout, not an ordinary conflict.
	partial := 0
	for _, op := range p.Operations {
		_, srcErr := os.Stat(op.SourcePath)
		_, destErr := os.Stat(op.DestinationPath)
		if srcErr != nil && destErr == nil {
			partial++
		}
	}
	if partial > 0 {
		return nil, fmt.Errorf("%w: %d of %d destinations already exist with their sources missing; inspect %s",
			util.ErrPartialCompletion, partial, len(p.Operations), p.DestinationPath)
	}

	for _, op := range p.Operations {
		r := &resolvedOp{op: op, dest: op.DestinationPath}

		if _, err := os.Stat(op.DestinationPath); err == nil {
			switch p.ConflictPolicy {
			case plan.ConflictFail:
				return nil, fmt.Errorf("%w: destination %s already exists (policy FAIL)", util.ErrConflict, op.DestinationPath)
			case plan.ConflictSkip:
				r.skip = true
			case plan.ConflictRename:
				r.dest = nextFreeName(op.DestinationPath)
				r.renamed = true
			}
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

// nextFreeName appends the lowest unused " (N)" suffix, scanning from 1
func nextFreeName(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// executeMoves performs the moves in order. Any failure reverses every
// completed move of this run in strict reverse order.
func (a *Applier) executeMoves(p *plan.Plan, resolved []*resolvedOp, rep *Report) error {
	for i, r := range resolved {
		if r.skip {
			rep.FileOps = append(rep.FileOps, FileOpResult{
				SourcePath: r.op.SourcePath, DestinationPath: r.dest, Outcome: OpSkipped,
			})
			a.logFileOp(p, r, "skip", nil)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(r.dest), 0755); err != nil {
			moveErr := fmt.Errorf("%w: failed to create directory for %s: %v", util.ErrIOFailure, r.dest, err)
			a.failAndRollback(p, resolved, i, rep, moveErr)
			return moveErr
		}

		if err := a.moveFile(r.op.SourcePath, r.dest); err != nil {
			moveErr := fmt.Errorf("%w: failed to move %s -> %s: %v", util.ErrIOFailure, r.op.SourcePath, r.dest, err)
			a.failAndRollback(p, resolved, i, rep, moveErr)
			return moveErr
		}

		r.moved = true
		rep.FileOps = append(rep.FileOps, FileOpResult{
			SourcePath: r.op.SourcePath, DestinationPath: r.dest, Outcome: OpMoved, Renamed: r.renamed,
		})
		a.logFileOp(p, r, "move", nil)
	}
	return nil
}

func (a *Applier) failAndRollback(p *plan.Plan, resolved []*resolvedOp, failedIdx int, rep *Report, cause error) {
	a.logFileOp(p, resolved[failedIdx], "move", cause)
	for _, r := range resolved[failedIdx+1:] {
		rep.FileOps = append(rep.FileOps, FileOpResult{
			SourcePath: r.op.SourcePath, DestinationPath: r.dest, Outcome: OpNotStarted,
		})
	}
	a.rollback(resolved, rep)
}

// rollback reverses the moves completed in this apply, last first. Each
// reversal failure is tolerated so later reversals still run; the report
// carries RollbackSuccess=false and the filesystem is left for manual
// forensics. Nothing is deleted.
func (a *Applier) rollback(resolved []*resolvedOp, rep *Report) {
	rep.RollbackAttempted = true
	for i := len(resolved) - 1; i >= 0; i-- {
		r := resolved[i]
		if !r.moved {
			continue
		}
		if err := os.Rename(r.dest, r.op.SourcePath); err != nil {
			rep.RollbackSuccess = false
			rep.Errors = append(rep.Errors, fmt.Sprintf("rollback failed for %s: %v", r.dest, err))
			util.ErrorLog("Rollback failed for %s: %v", r.dest, err)
			continue
		}
		r.moved = false
		for j := range rep.FileOps {
			if rep.FileOps[j].SourcePath == r.op.SourcePath && rep.FileOps[j].Outcome == OpMoved {
				rep.FileOps[j].Outcome = OpRolledBack
			}
		}
		util.DebugLog("Rolled back %s -> %s", r.dest, r.op.SourcePath)
	}
}

// writeTags applies the patch to each moved file. A disallowed patch skips
// tag writing entirely; the refusal reason lands in the report.
func (a *Applier) writeTags(p *plan.Plan, patch *enrich.TagPatch, resolved []*resolvedOp, rep *Report) error {
	if patch == nil {
		return nil
	}
	if !patch.Allowed {
		rep.Errors = append(rep.Errors, fmt.Sprintf("tag patch not allowed: %s", patch.Reason))
		return nil
	}

	byPosition := make(map[int]enrich.TrackPatch, len(patch.TrackPatches))
	for _, tp := range patch.TrackPatches {
		byPosition[tp.TrackPosition] = tp
	}

	for _, r := range resolved {
		if !r.moved {
			continue
		}
		tp, ok := byPosition[r.op.TrackPosition]
		if !ok {
			continue
		}

		set := make(map[string]string)
		for k, v := range patch.AlbumPatch {
			set[k] = v
		}
		for k, v := range tp.SetTags {
			set[k] = v
		}
		for k, v := range patch.ProvenanceTags {
			set[k] = v
		}

		result, err := a.tagWriter.ApplyPatch(r.dest, set, patch.AllowOverwrite)
		if err != nil {
			return fmt.Errorf("tag write failed for %s: %w", r.dest, err)
		}
		rep.TagOps = append(rep.TagOps, TagOpResult{
			Path: r.dest, TagsSet: result.TagsSet, TagsSkipped: result.TagsSkipped,
		})
	}
	return nil
}

// handleNonAudio applies the sidecar policy to whatever non-audio files
// remain in the source directory. Sidecar failures are reported but never
// undo a completed apply.
func (a *Applier) handleNonAudio(p *plan.Plan, rep *Report) {
	if p.NonAudioPolicy == plan.NonAudioLeaveInPlace {
		return
	}

	entries, err := os.ReadDir(p.SourcePath)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || tags.IsAudioFile(entry.Name()) {
			continue
		}
		src := filepath.Join(p.SourcePath, entry.Name())

		switch p.NonAudioPolicy {
		case plan.NonAudioMoveWithAlbum:
			dest := filepath.Join(p.DestinationPath, entry.Name())
			if _, err := os.Stat(dest); err == nil {
				continue // never clobber an existing sidecar
			}
			if err := os.MkdirAll(p.DestinationPath, 0755); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("sidecar move failed for %s: %v", src, err))
				continue
			}
			if err := a.moveFile(src, dest); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("sidecar move failed for %s: %v", src, err))
			}
		case plan.NonAudioDelete:
			if err := os.Remove(src); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("sidecar delete failed for %s: %v", src, err))
			}
		}
	}
}

// defaultMove renames, falling back to copy+delete across devices
func (a *Applier) defaultMove(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return copyAndDelete(src, dest)
	}
	return err
}

// copyAndDelete is the EXDEV fallback: stage to a .part file, rename into
// place, then remove the source
func copyAndDelete(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tempPath := dest + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	written, err := out.ReadFrom(in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if written != info.Size() {
		os.Remove(tempPath)
		return fmt.Errorf("short copy: wrote %s of %s",
			humanize.Bytes(uint64(written)), humanize.Bytes(uint64(info.Size())))
	}

	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Remove(src)
}

// commitState transitions the record and stamps the audit fields. The pin
// always carries the plan's provider and release forward.
func (a *Applier) commitState(p *plan.Plan, rec *store.DirectoryRecord, to store.State, status string) {
	pin := &store.Pin{
		Provider:   p.Provider,
		ReleaseID:  p.ReleaseID,
		Confidence: rec.PinnedConfidence,
	}
	if err := a.repo.SetState(p.DirID, to, pin, ""); err != nil {
		util.WarnLog("Failed to transition %s to %s: %v", p.DirID, to, err)
	}
	if err := a.repo.RecordApply(p.DirID, status, time.Now().UTC()); err != nil {
		util.WarnLog("Failed to record apply outcome for %s: %v", p.DirID, err)
	}
}

func (a *Applier) logFileOp(p *plan.Plan, r *resolvedOp, action string, opErr error) {
	if a.logger == nil {
		return
	}
	errStr := ""
	if opErr != nil {
		errStr = opErr.Error()
	}
	a.logger.LogApply(p.DirID, r.op.SourcePath, r.dest, action, errStr)
}
