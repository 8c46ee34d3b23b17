package tatara

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// cleanWorkspace removes every derived artifact: extracted trees with their
// stamps, build logs, prebuilt tarballs, and the downstream build output.
// Fetched source archives survive unless all is set. Best-effort and
// idempotent: a clean workspace cleans to itself, and individual removal
// failures are reported but never abort the rest.
func cleanWorkspace(ws *Workspace, all bool) {
	remove := func(dir string) {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return
		}
		debugf("Removing %s\n", dir)
		if err := removeTree(dir); err != nil {
			cPrintf(colWarn, "Failed to remove %s: %v\n", dir, err)
		}
	}

	remove(ws.BuildRoot)
	remove(ws.LogDir)
	remove(ws.BinDir)

	// The downstream project's own output dir, when it lives inside a
	// cargo project.
	remove(filepath.Join(ws.DownstreamDir, "target"))

	if all {
		remove(ws.CacheStore)
	}

	colArrow.Print("-> ")
	colSuccess.Println("Workspace cleaned")
}

func handleCleanCommand(args []string, ws *Workspace) error {
	// ContinueOnError: clean always exits 0, so a bad flag must not take
	// the process down with exit code 2.
	cleanCmd := flag.NewFlagSet("clean", flag.ContinueOnError)
	cleanAll := cleanCmd.Bool("all", false, "Also remove fetched source archives.")

	if err := cleanCmd.Parse(args); err != nil {
		return err
	}

	cleanWorkspace(ws, *cleanAll)
	return nil
}

// handleStatusCommand prints the lifecycle state of every target, derived
// from the workspace filesystem.
func handleStatusCommand(ws *Workspace, targets []*Target) error {
	graph, err := newBuildGraph(targets)
	if err != nil {
		return err
	}
	order, err := graph.topoOrder()
	if err != nil {
		return err
	}

	for _, t := range order {
		state := ws.targetState(t)
		colArrow.Print("-> ")
		fmt.Printf("%-24s", t.ExtractDirName())
		switch state {
		case StateBuilt:
			colSuccess.Println(state.String())
		case StateMissing:
			colWarn.Println(state.String())
		default:
			colInfo.Println(state.String())
		}
	}
	return nil
}
