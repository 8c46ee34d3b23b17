package tatara

import (
	"os"
	"os/exec"
	"strings"
)

// runDownstream invokes the downstream project's own build once, after
// every native target is built. The location of the compiled libraries is
// handed over through the environment; the downstream build is a black box
// beyond its exit code.
func (p *Pipeline) runDownstream() error {
	if len(p.ws.DownstreamCmd) == 0 {
		debugf("No downstream command configured, skipping\n")
		return nil
	}

	order, err := p.graph.topoOrder()
	if err != nil {
		return err
	}

	env := os.Environ()
	var libDirs []string
	for _, t := range order {
		dir := p.ws.extractDir(t)
		libDirs = append(libDirs, dir)
		prefix := envPrefix(t.Name)
		env = append(env,
			prefix+"_INCLUDE_DIR="+dir,
			prefix+"_LIB_DIR="+dir,
		)
	}
	env = append(env, "LIBRARY_PATH="+strings.Join(libDirs, ":"))

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Running downstream build: %s\n", strings.Join(p.ws.DownstreamCmd, " "))
	}

	cmd := exec.Command(p.ws.DownstreamCmd[0], p.ws.DownstreamCmd[1:]...)
	cmd.Dir = p.ws.DownstreamDir
	cmd.Env = env
	if err := p.runner.Run(cmd); err != nil {
		return stepErr("", StepDownstream, err)
	}

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Println("Downstream build finished")
	}
	return nil
}

// envPrefix turns a target name into an environment variable prefix:
// xapian-core -> XAPIAN_CORE.
func envPrefix(name string) string {
	up := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, up)
}
