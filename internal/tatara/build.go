package tatara

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// buildTarget configures and compiles one native library in its extracted
// tree. The built stamp is the completion marker: once present, the whole
// step is skipped on re-invocation. Include and library search paths for
// every dependency target are passed through CPPFLAGS/LDFLAGS, which is why
// a dependency must be fully built before this target's configure runs.
func (p *Pipeline) buildTarget(t *Target, deps []*Target) error {
	treeDir := p.ws.extractDir(t)
	stamp := filepath.Join(treeDir, builtStamp)

	if stampPresent(stamp) {
		debugf("Already built: %s\n", t.ExtractDirName())
		return nil
	}

	logPath := filepath.Join(p.ws.LogDir, t.ExtractDirName()+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return stepErr(t.Name, StepConfigure, fmt.Errorf("failed to create build log: %w", err))
	}
	defer logFile.Close()

	var buildOut io.Writer = logFile
	if Verbose {
		buildOut = io.MultiWriter(logFile, os.Stdout)
	}

	env := append(os.Environ(), depFlags(p.ws, deps)...)

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Configuring %s\n", t.ExtractDirName())
	}

	configure := exec.Command("./configure", t.ConfigureFlags...)
	configure.Dir = treeDir
	configure.Env = env
	configure.Stdout = buildOut
	configure.Stderr = buildOut
	if err := p.runner.Run(configure); err != nil {
		return stepErr(t.Name, StepConfigure, fmt.Errorf("%w (see %s)", err, logPath))
	}

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Compiling %s (make -j%d)\n", t.ExtractDirName(), p.ws.Jobs)
	}

	makeCmd := exec.Command("make", "-j"+strconv.Itoa(p.ws.Jobs))
	makeCmd.Dir = treeDir
	makeCmd.Env = env
	makeCmd.Stdout = buildOut
	makeCmd.Stderr = buildOut
	if err := p.runner.Run(makeCmd); err != nil {
		return stepErr(t.Name, StepCompile, fmt.Errorf("%w (see %s)", err, logPath))
	}

	// Keep completed build logs around compressed; the raw log only
	// survives for failed builds.
	logFile.Close()
	if err := compressXZ(logPath, logPath+".xz"); err == nil {
		_ = os.Remove(logPath)
	} else {
		debugf("Failed to compress build log %s: %v\n", logPath, err)
	}

	if err := writeStamp(stamp, t); err != nil {
		return stepErr(t.Name, StepCompile, fmt.Errorf("failed to write build stamp: %w", err))
	}

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Built %s\n", t.ExtractDirName())
	}
	return nil
}

// depFlags derives the -I/-L environment pointing at every dependency's
// built tree. zlib builds in-tree, so its headers and libz.a both live at
// the root of its extract dir.
func depFlags(ws *Workspace, deps []*Target) []string {
	if len(deps) == 0 {
		return nil
	}
	var includes, libs []string
	for _, dep := range deps {
		dir := ws.extractDir(dep)
		includes = append(includes, "-I"+dir)
		libs = append(libs, "-L"+dir)
	}
	return []string{
		"CPPFLAGS=" + strings.Join(includes, " "),
		"LDFLAGS=" + strings.Join(libs, " "),
	}
}

// compressXZ compresses a file using XZ
func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	defer xzWriter.Close()

	_, err = io.Copy(xzWriter, src)
	return err
}
