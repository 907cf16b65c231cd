package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"storyreel/pkg/checkpoint"
	"storyreel/pkg/config"
	"storyreel/pkg/export"
	"storyreel/pkg/ingest"
	"storyreel/pkg/llm"
	"storyreel/pkg/llm/prompts"
	"storyreel/pkg/llm/providers"
	"storyreel/pkg/model"
	"storyreel/pkg/notify"
	"storyreel/pkg/pipeline"
	"storyreel/pkg/probe"
	"storyreel/pkg/request"
	"storyreel/pkg/store"
	"storyreel/pkg/tracker"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"ingest":           cmdIngest,
	"extract-bible":    stageCommand((*pipeline.Runner).ExtractBible),
	"convert-script":   stageCommand((*pipeline.Runner).ConvertScreenplay),
	"breakdown-scenes": stageCommand((*pipeline.Runner).BreakdownScenes),
	"run-all":          stageCommand((*pipeline.Runner).RunAll),
	"status":           cmdStatus,
	"list-scenes":      cmdListScenes,
	"export":           cmdExport,
}

func cmdIngest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	title := fs.String("title", "", "Novel title (default: derived from the file name)")
	if err := fs.Parse(args); err != nil {
		return usageErr("ingest: %v", err)
	}
	if fs.NArg() == 0 {
		return usageErr("ingest needs a file")
	}
	file := fs.Arg(0)
	// Allow flags after the file name.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return usageErr("ingest: %v", err)
	}

	res, err := ingest.NewFromConfig(a.store, a.cfg.Ingest).Ingest(ctx, file, *title)
	if err != nil {
		return err
	}
	verb := "Ingested"
	if res.Existing {
		verb = "Already ingested"
	}
	fmt.Fprintf(a.out, "%s %q\n  id:       %s\n  words:    %d\n  chapters: %d\n  chunks:   %d\n",
		verb, res.Novel.Title, res.Novel.ID, res.Novel.WordCount, res.Novel.ChapterCount, res.Chunks)
	return nil
}

// stageCommand adapts a Runner stage to a command taking a novel reference.
func stageCommand(stage func(*pipeline.Runner, context.Context, string) error) command {
	return func(ctx context.Context, a *app, args []string) error {
		novel, err := novelArg(ctx, a, args)
		if err != nil {
			return err
		}
		runner, tr, cleanup, err := newRunner(ctx, a)
		if err != nil {
			return err
		}
		defer cleanup()

		start := time.Now()
		err = stage(runner, ctx, novel.ID)
		slog.Info("Command finished",
			"novel", novel.Title,
			"elapsed", time.Since(start).Round(time.Second),
			"tokens", tr.TotalTokens(),
			"error", err)
		if err != nil {
			return err
		}
		return printStatus(ctx, a, runner, novel.ID)
	}
}

func novelArg(ctx context.Context, a *app, args []string) (*model.Novel, error) {
	if len(args) == 0 {
		return nil, usageErr("missing <novel> argument")
	}
	ref := strings.Join(args, " ")
	n, err := a.store.FindNovel(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no novel with id or title %q (see: storyreel status)", ref)
	}
	return n, err
}

// newRunner wires the LLM stack and runs the startup probes.
func newRunner(ctx context.Context, a *app) (*pipeline.Runner, *tracker.Tracker, func(), error) {
	cfg := a.cfg
	tr := tracker.New()
	rc := request.New(cfg.Request, tr)

	provider, err := providers.New(cfg.LLM, rc, tr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize llm providers: %w", err)
	}
	pm, err := prompts.NewManager(cfg.Pipeline.PromptsDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	probes := []probe.Probe{
		probe.Database(a.store),
		probe.LLM(provider),
		{Name: "Prompt Templates", Check: func(context.Context) error { return pm.Check() }, Critical: true},
		probe.WritableDir("Output Directory", cfg.Output.Dir, true),
	}
	if cfg.Pipeline.UseCheckpoints && cfg.Pipeline.CheckpointBackend == "file" {
		probes = append(probes, probe.WritableDir("Checkpoint Directory", cfg.Output.CheckpointDir, false))
	}
	if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
		return nil, nil, nil, fmt.Errorf("startup checks failed: %w", err)
	}

	exp, err := export.FromConfig(ctx, cfg.Output)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize export: %w", err)
	}
	events, err := notify.New(cfg.Notify.NATSURL, cfg.Notify.SubjectPrefix)
	if err != nil {
		slog.Warn("Run events disabled", "error", err)
		events = notify.Nop{}
	}

	caller := llm.NewCaller(provider, request.NewRateLimiter(cfg.LLM.RateLimitRPM), retryPolicy(cfg.LLM.Retry), tr)
	runner := pipeline.New(pipeline.Deps{
		Store:       a.store,
		Caller:      caller,
		Prompts:     pm,
		Checkpoints: checkpointBackend(cfg, a.store),
		Exporter:    exp,
		Events:      events,
		Pipeline:    cfg.Pipeline,
	})
	cleanup := func() {
		if err := events.Close(); err != nil {
			slog.Warn("Failed to close event publisher", "error", err)
		}
	}
	return runner, tr, cleanup, nil
}

func retryPolicy(rc config.RetryConfig) llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	if rc.BaseDelay > 0 {
		p.BaseDelay = rc.BaseDelay.D()
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay.D()
	}
	if rc.TransientAttempts > 0 {
		p.TransientAttempts = rc.TransientAttempts
	}
	if rc.OtherAttempts > 0 {
		p.OtherAttempts = rc.OtherAttempts
	}
	return p
}

func checkpointBackend(cfg *config.Config, st store.StateStore) checkpoint.Backend {
	if !cfg.Pipeline.UseCheckpoints {
		return nil
	}
	if cfg.Pipeline.CheckpointBackend == "sqlite" {
		return checkpoint.NewStateBackend(st)
	}
	return checkpoint.NewFileBackend(cfg.Output.CheckpointDir)
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	if len(args) > 0 {
		novel, err := novelArg(ctx, a, args)
		if err != nil {
			return err
		}
		return printStatus(ctx, a, pipeline.New(pipeline.Deps{Store: a.store, Pipeline: a.cfg.Pipeline}), novel.ID)
	}

	novels, err := a.store.ListNovels(ctx)
	if err != nil {
		return err
	}
	if len(novels) == 0 {
		fmt.Fprintln(a.out, "No novels ingested yet.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tWORDS\tCHAPTERS\tINGESTED")
	for _, n := range novels {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", n.ID, n.Title, n.WordCount, n.ChapterCount, n.IngestedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printStatus(ctx context.Context, a *app, runner *pipeline.Runner, novelID string) error {
	st, err := runner.Status(ctx, novelID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%s)\n", st.Novel.Title, st.Novel.ID)
	fmt.Fprintf(a.out, "  chunks:      %d\n", st.Chunks)
	if st.HasBible {
		fmt.Fprintf(a.out, "  bible:       %d characters, %d locations\n", st.Characters, st.Locations)
	} else {
		fmt.Fprintln(a.out, "  bible:       -")
	}
	fmt.Fprintf(a.out, "  screenplay:  %d scenes, ~%d pages\n", st.Scenes, st.Pages)
	fmt.Fprintf(a.out, "  breakdowns:  %d (%d prompt-ready)\n", st.Breakdowns, st.PromptReady)
	if st.LockOwner != "" {
		fmt.Fprintf(a.out, "  locked by:   %s until %s\n", st.LockOwner, st.LockExpires.Local().Format(time.RFC3339))
	}
	if next := st.NextStage(); next != "" {
		fmt.Fprintf(a.out, "  next stage:  %s\n", next)
	}
	if len(st.Runs) == 0 {
		return nil
	}

	fmt.Fprintln(a.out, "\nRuns:")
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  STARTED\tPHASE\tSTATUS\tTOKENS\tERROR")
	for _, r := range st.Runs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Phase, r.Status, r.TokensUsed, truncate(r.Error, 60))
	}
	return w.Flush()
}

func cmdListScenes(ctx context.Context, a *app, args []string) error {
	novel, err := novelArg(ctx, a, args)
	if err != nil {
		return err
	}
	sp, err := a.store.GetLatestScreenplay(ctx, novel.ID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%q has no screenplay yet, run convert-script first", novel.Title)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSLUG\tTYPE\tCHARACTERS")
	for _, s := range sp.Scenes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.SceneNumber, s.SlugLine, s.SceneType, strings.Join(s.CharactersPresent, ", "))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n%d scenes, ~%d pages\n", sp.SceneCount, sp.PageCountEstimate)
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	novel, err := novelArg(ctx, a, args)
	if err != nil {
		return err
	}
	exp, err := export.FromConfig(ctx, a.cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to initialize export: %w", err)
	}
	runner := pipeline.New(pipeline.Deps{Store: a.store, Exporter: exp, Pipeline: a.cfg.Pipeline})
	n, err := runner.Export(ctx, novel.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintf(a.out, "Nothing to export for %q yet.\n", novel.Title)
		return nil
	}
	fmt.Fprintf(a.out, "Exported %d artifacts for %q to %s\n", n, novel.Title, a.cfg.Output.Dir)
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
