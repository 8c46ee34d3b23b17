package tatara

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: tatara <command> [arguments]")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "", "Fetch, extract, patch and build all native dependencies, then the downstream project"},
		{"clean", "[-all]", "Remove derived artifacts; -all also drops fetched archives"},
		{"status, st", "", "Show per-target lifecycle state"},
		{"fetch, f", "", "Fetch and verify all source archives without building"},
		{"log", "", "TUI build log viewer"},
		{"upload", "", "Upload locally built dependency tarballs to the R2 mirror"},
		{"version, --version", "", "Version information"},
	}

	// Find the longest usage string to calculate the column width.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}

	fmt.Println()
}

// Main is the CLI entrypoint for cmd/tatara.
func Main() {
	// 1. CONTEXT AND SIGNAL SETUP
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// Graceful cancellation on the first signal, forced exit on the second.
	go func() {
		for {
			select {
			case sig := <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
				cancel()

				// Give the running toolchain a moment to die and flush.
				time.Sleep(100 * time.Millisecond)

				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Printf("Graceful shutdown timeout. Exiting.")
					os.Exit(130)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	// 2. CONFIGURATION
	configPath := ConfigFile
	if path := os.Getenv("TATARA_CONF"); path != "" {
		configPath = path
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read config %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	ws, err := newWorkspace(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	targets, err := loadTargets(ws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 3. MAIN LOGIC
	var exitCode int

	switch os.Args[1] {
	case "build", "b":
		runner := NewExecutor(ctx)
		if cfg.Values["TATARA_NICE"] == "1" {
			runner.ApplyIdlePriority = true
		}
		pipe, err := newPipeline(ws, targets, runner)
		if err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
			break
		}
		start := time.Now()
		if err := pipe.Run(); err != nil {
			reportFailure(err)
			exitCode = 1
			break
		}
		colArrow.Print("-> ")
		colSuccess.Printf("All targets built in %s\n", time.Since(start).Round(time.Second))

	case "clean":
		if err := handleCleanCommand(os.Args[2:], ws); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			// clean is best-effort, exit 0 regardless
		}

	case "status", "st":
		if err := handleStatusCommand(ws, targets); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}

	case "fetch", "f":
		pipe, err := newPipeline(ws, targets, NewExecutor(ctx))
		if err == nil {
			err = pipe.FetchAll()
		}
		if err != nil {
			reportFailure(err)
			exitCode = 1
		}

	case "log":
		exitCode = runTUI(ws)

	case "upload":
		order := targets
		if graph, err := newBuildGraph(targets); err == nil {
			if o, err := graph.topoOrder(); err == nil {
				order = o
			}
		}
		if err := handleUploadCommand(ws, cfg, order); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}

	case "version", "--version":
		fmt.Printf("tatara %s (%s, built %s)\n", version, arch, buildDate)

	case "help", "-h", "--help":
		printHelp()

	default:
		cPrintf(colError, "Unknown command: %s\n", os.Args[1])
		printHelp()
		exitCode = 1
	}

	cancel()
	os.Exit(exitCode)
}

// reportFailure prints a step failure in a uniform way.
func reportFailure(err error) {
	var stepError *StepError
	if errors.As(err, &stepError) {
		colArrow.Print("-> ")
		colError.Printf("Build failed at %s", stepError.Step)
		if stepError.Target != "" {
			colError.Printf(" of %s", stepError.Target)
		}
		fmt.Println()
		cPrintf(colError, "   %v\n", stepError.Err)
		return
	}
	cPrintf(colError, "Error: %v\n", err)
}
