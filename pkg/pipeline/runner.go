// Package pipeline runs the extraction stages for a stored novel: lock, run
// bookkeeping, input loading, persistence, export and events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storyreel/pkg/bible"
	"storyreel/pkg/breakdown"
	"storyreel/pkg/checkpoint"
	"storyreel/pkg/config"
	"storyreel/pkg/export"
	"storyreel/pkg/llm"
	"storyreel/pkg/llm/prompts"
	"storyreel/pkg/lock"
	"storyreel/pkg/model"
	"storyreel/pkg/notify"
	"storyreel/pkg/screenplay"
	"storyreel/pkg/store"
)

// ErrMissingInput is returned when a stage runs before the stage it depends on.
var ErrMissingInput = errors.New("missing input")

// Store is the repository the runner reads inputs from and writes outputs to.
type Store interface {
	store.NovelStore
	store.ChunkStore
	store.BibleStore
	store.ScreenplayStore
	store.BreakdownStore
	store.RunStore
	store.LockStore
}

// Deps wires a Runner.
type Deps struct {
	Store       Store
	Caller      *llm.Caller
	Prompts     *prompts.Manager
	Checkpoints checkpoint.Backend // nil disables checkpoints
	Exporter    *export.Exporter   // nil disables export
	Events      notify.Publisher   // nil disables events
	Pipeline    config.PipelineConfig
}

// Runner executes pipeline stages for one novel at a time per novel id.
type Runner struct {
	store      Store
	caller     *llm.Caller
	locker     *lock.Locker
	bible      *bible.Extractor
	screenplay *screenplay.Converter
	breakdown  *breakdown.Extractor
	exporter   *export.Exporter
	events     notify.Publisher
}

// New creates a Runner.
func New(d Deps) *Runner {
	events := d.Events
	if events == nil {
		events = notify.Nop{}
	}
	return &Runner{
		store:      d.Store,
		caller:     d.Caller,
		locker:     lock.New(d.Store, d.Pipeline.LockTTL.D()),
		bible:      bible.NewExtractor(d.Caller, d.Prompts, d.Checkpoints, bible.OptionsFrom(d.Pipeline)),
		screenplay: screenplay.NewConverter(d.Caller, d.Prompts, d.Checkpoints, screenplay.OptionsFrom(d.Pipeline)),
		breakdown:  breakdown.NewExtractor(d.Caller, d.Prompts, d.Checkpoints, breakdown.OptionsFrom(d.Pipeline)),
		exporter:   d.Exporter,
		events:     events,
	}
}

// ExtractBible builds and stores the Story Bible of a novel.
func (r *Runner) ExtractBible(ctx context.Context, novelID string) error {
	return r.locked(ctx, novelID, func(ctx context.Context) error {
		return r.stage(ctx, novelID, model.PhaseBible, r.extractBible)
	})
}

// ConvertScreenplay converts a novel with a Story Bible into a screenplay.
func (r *Runner) ConvertScreenplay(ctx context.Context, novelID string) error {
	return r.locked(ctx, novelID, func(ctx context.Context) error {
		return r.stage(ctx, novelID, model.PhaseScreenplay, r.convertScreenplay)
	})
}

// BreakdownScenes produces scene breakdowns for the latest screenplay.
func (r *Runner) BreakdownScenes(ctx context.Context, novelID string) error {
	return r.locked(ctx, novelID, func(ctx context.Context) error {
		return r.stage(ctx, novelID, model.PhaseBreakdown, r.breakdownScenes)
	})
}

// RunAll runs the three stages in order under a single lock, stopping at the
// first failure.
func (r *Runner) RunAll(ctx context.Context, novelID string) error {
	return r.locked(ctx, novelID, func(ctx context.Context) error {
		stages := []struct {
			phase string
			fn    func(context.Context, *model.Novel) error
		}{
			{model.PhaseBible, r.extractBible},
			{model.PhaseScreenplay, r.convertScreenplay},
			{model.PhaseBreakdown, r.breakdownScenes},
		}
		for _, s := range stages {
			if err := r.stage(ctx, novelID, s.phase, s.fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Runner) locked(ctx context.Context, novelID string, fn func(context.Context) error) error {
	lease, err := r.locker.Acquire(ctx, novelID)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release() }()
	stop := lease.KeepAlive(ctx)
	defer stop()
	return fn(ctx)
}

// stage records a run around fn. Run bookkeeping and events survive a
// cancelled context.
func (r *Runner) stage(ctx context.Context, novelID, phase string, fn func(context.Context, *model.Novel) error) error {
	novel, err := r.store.GetNovel(ctx, novelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("novel %s: %w", novelID, err)
		}
		return err
	}

	run := &model.PipelineRun{
		ID:        uuid.NewString(),
		NovelID:   novelID,
		Phase:     phase,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.StartRun(ctx, run); err != nil {
		return fmt.Errorf("start %s run: %w", phase, err)
	}
	slog.Info("Pipeline stage started", "novel_id", novelID, "title", novel.Title, "phase", phase, "run_id", run.ID)
	r.publish(ctx, run, notify.StatusStarted, 0, nil)

	before := r.caller.TokensUsed()
	runErr := fn(ctx, novel)
	tokens := r.caller.TokensUsed() - before

	bg := context.WithoutCancel(ctx)
	status, msg := model.RunCompleted, ""
	if runErr != nil {
		status, msg = model.RunFailed, runErr.Error()
	}
	if err := r.store.FinishRun(bg, run.ID, status, tokens, msg); err != nil {
		slog.Error("Failed to record run result", "run_id", run.ID, "error", err)
	}

	if runErr != nil {
		slog.Error("Pipeline stage failed", "novel_id", novelID, "phase", phase, "run_id", run.ID, "tokens", tokens, "error", runErr)
		r.publish(bg, run, notify.StatusFailed, tokens, runErr)
		return fmt.Errorf("%s: %w", phase, runErr)
	}
	slog.Info("Pipeline stage completed", "novel_id", novelID, "phase", phase, "run_id", run.ID, "tokens", tokens)
	r.publish(bg, run, notify.StatusCompleted, tokens, nil)
	return nil
}

func (r *Runner) publish(ctx context.Context, run *model.PipelineRun, status string, tokens int64, runErr error) {
	ev := notify.Event{
		NovelID:    run.NovelID,
		Phase:      run.Phase,
		Status:     status,
		RunID:      run.ID,
		TokensUsed: tokens,
		Timestamp:  time.Now().UTC(),
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish run event", "run_id", run.ID, "status", status, "error", err)
	}
}

func (r *Runner) chunks(ctx context.Context, novelID string) ([]model.NarrativeChunk, error) {
	chunks, err := r.store.GetChunks(ctx, novelID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: novel %s has no chunks, run ingest first", ErrMissingInput, novelID)
	}
	return chunks, nil
}

func (r *Runner) latestBible(ctx context.Context, novelID string) (*model.StoryBible, error) {
	b, err := r.store.GetLatestBible(ctx, novelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: novel %s has no story bible, run extract-bible first", ErrMissingInput, novelID)
	}
	return b, err
}

func (r *Runner) latestScreenplay(ctx context.Context, novelID string) (*model.Screenplay, error) {
	sp, err := r.store.GetLatestScreenplay(ctx, novelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: novel %s has no screenplay, run convert-script first", ErrMissingInput, novelID)
	}
	return sp, err
}

func (r *Runner) extractBible(ctx context.Context, novel *model.Novel) error {
	chunks, err := r.chunks(ctx, novel.ID)
	if err != nil {
		return err
	}
	b, err := r.bible.Extract(ctx, novel.ID, novel.Title, chunks)
	if err != nil {
		return err
	}
	if err := r.store.SaveBible(ctx, novel.ID, b, r.caller.ModelUsed()); err != nil {
		return fmt.Errorf("save story bible: %w", err)
	}
	r.bible.Done(ctx, novel.ID)
	r.export(ctx, novel, func(e *export.Exporter) error { return e.Bible(ctx, b) })
	return nil
}

func (r *Runner) convertScreenplay(ctx context.Context, novel *model.Novel) error {
	chunks, err := r.chunks(ctx, novel.ID)
	if err != nil {
		return err
	}
	b, err := r.latestBible(ctx, novel.ID)
	if err != nil {
		return err
	}
	sp, err := r.screenplay.Convert(ctx, novel.ID, b, chunks)
	if err != nil {
		return err
	}
	if err := r.store.SaveScreenplay(ctx, sp); err != nil {
		return fmt.Errorf("save screenplay: %w", err)
	}
	r.screenplay.Done(ctx, novel.ID)
	r.export(ctx, novel, func(e *export.Exporter) error { return e.Screenplay(ctx, sp) })
	return nil
}

func (r *Runner) breakdownScenes(ctx context.Context, novel *model.Novel) error {
	sp, err := r.latestScreenplay(ctx, novel.ID)
	if err != nil {
		return err
	}
	b, err := r.latestBible(ctx, novel.ID)
	if err != nil {
		return err
	}
	bs, err := r.breakdown.Process(ctx, novel.ID, sp.Scenes, b)
	if err != nil {
		return err
	}
	if err := r.store.SaveBreakdowns(ctx, novel.ID, bs); err != nil {
		return fmt.Errorf("save breakdowns: %w", err)
	}
	r.breakdown.Done(ctx, novel.ID)
	r.export(ctx, novel, func(e *export.Exporter) error { return e.Breakdowns(ctx, novel.Title, bs) })
	return nil
}

// export writes artifacts after they are stored. A failed export does not fail
// the stage; the export command writes them again from the store.
func (r *Runner) export(ctx context.Context, novel *model.Novel, fn func(*export.Exporter) error) {
	if r.exporter == nil {
		return
	}
	if err := fn(r.exporter); err != nil {
		slog.Error("Artifact export failed", "novel_id", novel.ID, "error", err)
	}
}
