package tatara

import (
	"path/filepath"
)

// Pipeline walks the build graph in dependency order and brings every
// target from whatever state the workspace is in to Built, then triggers
// the downstream project's own build exactly once. Execution is strictly
// sequential and fail-fast: the first failing step aborts everything after
// it and is surfaced with its step and target. Only archive downloads may
// overlap (background prefetch); no build starts before every earlier
// target's build has completed.
type Pipeline struct {
	ws     *Workspace
	graph  *BuildGraph
	runner commandRunner
	quiet  bool

	// prefetch downloads all archives concurrently before the walk.
	prefetch bool
}

func newPipeline(ws *Workspace, targets []*Target, runner commandRunner) (*Pipeline, error) {
	graph, err := newBuildGraph(targets)
	if err != nil {
		return nil, err
	}
	return &Pipeline{ws: ws, graph: graph, runner: runner, prefetch: true}, nil
}

// Run executes the full pipeline. Per target: fetch, extract, patch, build,
// each phase individually skippable when its completion signal is already
// present.
func (p *Pipeline) Run() error {
	order, err := p.graph.topoOrder()
	if err != nil {
		return err
	}

	if err := p.ws.ensureDirs(); err != nil {
		return err
	}

	if p.prefetch {
		// Fire and forget: the sequential fetch step below blocks on the
		// same flock per archive, so whichever side wins, each archive is
		// downloaded once.
		go p.prefetchArchives(order)
	}

	for _, t := range order {
		if err := p.prepareTarget(t); err != nil {
			return err
		}
	}

	return p.runDownstream()
}

// prepareTarget brings one target to Built.
func (p *Pipeline) prepareTarget(t *Target) error {
	if stampPresent(filepath.Join(p.ws.extractDir(t), builtStamp)) {
		if !p.quiet {
			colArrow.Print("-> ")
			colInfo.Printf("%s already built, skipping\n", t.ExtractDirName())
		}
		return nil
	}

	// A prebuilt tarball from the mirror replaces the whole
	// fetch/extract/patch/compile sequence when available.
	if p.ws.Mirror != "" && p.tryPrebuilt(t) {
		return nil
	}

	if _, err := p.fetchArchive(t); err != nil {
		return stepErr(t.Name, StepFetch, err)
	}

	if _, err := p.extractArchive(t); err != nil {
		return stepErr(t.Name, StepExtract, err)
	}

	if err := p.applyPatches(t); err != nil {
		return stepErr(t.Name, StepPatch, err)
	}

	// buildTarget wraps its own errors: configure and compile failures are
	// distinct steps.
	return p.buildTarget(t, p.graph.deps(t))
}

// Targets returns the graph's targets in topological order.
func (p *Pipeline) Targets() ([]*Target, error) {
	return p.graph.topoOrder()
}

// FetchAll prefetches and verifies every archive without building anything.
func (p *Pipeline) FetchAll() error {
	order, err := p.graph.topoOrder()
	if err != nil {
		return err
	}
	if err := p.ws.ensureDirs(); err != nil {
		return err
	}
	for _, t := range order {
		if _, err := p.fetchArchive(t); err != nil {
			return stepErr(t.Name, StepFetch, err)
		}
	}
	return nil
}
