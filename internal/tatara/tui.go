package tatara

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
)

type logInfo struct {
	name    string
	path    string
	content string
}

var (
	tuiApp        *tview.Application
	tuiLogs       []logInfo
	tuiActiveIdx  int
	tuiHeaderBox  *tview.TextView
	tuiLogView    *tview.TextView
	tuiFooterBox  *tview.TextView
	tuiFlex       *tview.Flex
	tuiUpdateChan chan []logInfo
)

// readAllBuildLogs collects every build log in the workspace log dir.
// Completed builds leave xz-compressed logs, failed or in-progress ones a
// raw .log file.
func readAllBuildLogs(ws *Workspace) []logInfo {
	var logs []logInfo

	entries, err := os.ReadDir(ws.LogDir)
	if err != nil {
		return logs
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(ws.LogDir, entry.Name())
		var content string
		switch {
		case strings.HasSuffix(entry.Name(), ".log.xz"):
			data, err := readXZFile(path)
			if err != nil {
				debugf("Failed to read %s: %v\n", path, err)
				continue
			}
			content = data
		case strings.HasSuffix(entry.Name(), ".log"):
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			content = string(data)
		default:
			continue
		}
		name := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".xz"), ".log")
		logs = append(logs, logInfo{name: name, path: path, content: content})
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].name < logs[j].name })
	return logs
}

func readXZFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	r, err := xz.NewReader(f)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func updateTUI() {
	if len(tuiLogs) == 0 {
		tuiHeaderBox.SetText("[yellow]no build logs yet")
		tuiLogView.SetText("")
		return
	}
	if tuiActiveIdx >= len(tuiLogs) {
		tuiActiveIdx = len(tuiLogs) - 1
	}

	// Header: tab bar with the active log highlighted
	var tabs []string
	for i, l := range tuiLogs {
		if i == tuiActiveIdx {
			tabs = append(tabs, fmt.Sprintf("[black:yellow] %s [-:-]", l.name))
		} else {
			tabs = append(tabs, fmt.Sprintf("[white] %s ", l.name))
		}
	}
	tuiHeaderBox.SetText(strings.Join(tabs, "|"))

	active := tuiLogs[tuiActiveIdx]
	tuiLogView.SetText(tview.TranslateANSI(active.content))
	tuiLogView.ScrollToEnd()
}

// runTUI shows the build log viewer. Returns the process exit code.
func runTUI(ws *Workspace) int {
	tuiUpdateChan = make(chan []logInfo, 10)
	tuiLogs = readAllBuildLogs(ws)

	tuiApp = tview.NewApplication()

	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle("tatara Build Log Viewer")

	tuiLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			tuiApp.Draw()
		})
	tuiLogView.SetBorder(true)

	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)
	tuiFooterBox.SetText("[yellow]h/l or ←/→[white] switch log  [yellow]↑/↓ PgUp/PgDn[white] scroll  [yellow]q[white] quit")

	tuiFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 3, 0, false).
		AddItem(tuiLogView, 0, 1, true).
		AddItem(tuiFooterBox, 3, 0, false)

	tuiFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyLeft:
			switchLog(-1)
			return nil
		case tcell.KeyRight:
			switchLog(1)
			return nil
		case tcell.KeyHome:
			tuiLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiLogView.ScrollToEnd()
			return nil
		case tcell.KeyPgUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 10 {
				tuiLogView.ScrollTo(row-10, 0)
			} else {
				tuiLogView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'h':
				switchLog(-1)
				return nil
			case 'l':
				switchLog(1)
				return nil
			}
		}
		return event
	})

	// Refresh periodically so a build running in another terminal streams in.
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			logs := readAllBuildLogs(ws)
			select {
			case tuiUpdateChan <- logs:
			default:
			}
		}
	}()

	go func() {
		for logs := range tuiUpdateChan {
			tuiApp.QueueUpdateDraw(func() {
				tuiLogs = logs
				updateTUI()
			})
		}
	}()

	updateTUI()

	if err := tuiApp.SetRoot(tuiFlex, true).Run(); err != nil {
		cPrintf(colError, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func switchLog(delta int) {
	if len(tuiLogs) == 0 {
		return
	}
	tuiActiveIdx = (tuiActiveIdx + delta + len(tuiLogs)) % len(tuiLogs)
	updateTUI()
}
