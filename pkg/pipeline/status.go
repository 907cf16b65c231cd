package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyreel/pkg/model"
	"storyreel/pkg/store"
)

// Status summarizes what the pipeline has produced for a novel.
type Status struct {
	Novel       model.Novel
	Chunks      int
	Characters  int
	Locations   int
	HasBible    bool
	Scenes      int
	Pages       int
	Breakdowns  int
	PromptReady int
	Runs        []model.PipelineRun
	LockOwner   string
	LockExpires time.Time
}

// NextStage names the stage to run next, or "" when all are done.
func (s *Status) NextStage() string {
	switch {
	case !s.HasBible:
		return model.PhaseBible
	case s.Scenes == 0:
		return model.PhaseScreenplay
	case s.Breakdowns < s.Scenes:
		return model.PhaseBreakdown
	}
	return ""
}

// Status reports the stored outputs, runs and lock of a novel.
func (r *Runner) Status(ctx context.Context, novelID string) (*Status, error) {
	novel, err := r.store.GetNovel(ctx, novelID)
	if err != nil {
		return nil, fmt.Errorf("novel %s: %w", novelID, err)
	}
	st := &Status{Novel: *novel}

	if st.Chunks, err = r.store.CountChunks(ctx, novelID); err != nil {
		return nil, err
	}

	b, err := r.store.GetLatestBible(ctx, novelID)
	switch {
	case err == nil:
		st.HasBible = true
		st.Characters = len(b.Characters)
		st.Locations = len(b.Locations)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	sp, err := r.store.GetLatestScreenplay(ctx, novelID)
	switch {
	case err == nil:
		st.Scenes = sp.SceneCount
		st.Pages = sp.PageCountEstimate
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	bs, err := r.store.GetBreakdowns(ctx, novelID)
	if err != nil {
		return nil, err
	}
	st.Breakdowns = len(bs)
	for i := range bs {
		if bs[i].PromptReady {
			st.PromptReady++
		}
	}

	if st.Runs, err = r.store.ListRuns(ctx, novelID); err != nil {
		return nil, err
	}

	owner, expires, err := r.store.LockOwner(ctx, novelID)
	switch {
	case err == nil && expires.After(time.Now()):
		st.LockOwner, st.LockExpires = owner, expires
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return st, nil
}

// Export writes every stored artifact of a novel again. Stages without output
// are skipped.
func (r *Runner) Export(ctx context.Context, novelID string) (int, error) {
	if r.exporter == nil {
		return 0, fmt.Errorf("export is not configured")
	}
	novel, err := r.store.GetNovel(ctx, novelID)
	if err != nil {
		return 0, fmt.Errorf("novel %s: %w", novelID, err)
	}

	written := 0
	b, err := r.store.GetLatestBible(ctx, novelID)
	switch {
	case err == nil:
		if err := r.exporter.Bible(ctx, b); err != nil {
			return written, err
		}
		written++
	case !errors.Is(err, store.ErrNotFound):
		return written, err
	}

	sp, err := r.store.GetLatestScreenplay(ctx, novelID)
	switch {
	case err == nil:
		if err := r.exporter.Screenplay(ctx, sp); err != nil {
			return written, err
		}
		written += 2
	case !errors.Is(err, store.ErrNotFound):
		return written, err
	}

	bs, err := r.store.GetBreakdowns(ctx, novelID)
	if err != nil {
		return written, err
	}
	if len(bs) > 0 {
		if err := r.exporter.Breakdowns(ctx, novel.Title, bs); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
