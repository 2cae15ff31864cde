package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/sud/internal/downloader"
)

const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
)

type DownloadOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	Progress    *downloader.ProgressSnapshot
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders the state of every registered download in place on the
// terminal.
type Manager struct {
	outputs     map[int]*DownloadOutput
	mutex       sync.RWMutex
	out         io.Writer
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	started     bool
	count       int
}

func NewManager() *Manager {
	return &Manager{
		outputs:     make(map[int]*DownloadOutput),
		out:         os.Stdout,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

// SetOutput redirects rendering, mainly for tests.
func (m *Manager) SetOutput(w io.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.out = w
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.count++
	m.outputs[m.count] = &DownloadOutput{
		ID:          m.count,
		Label:       label,
		Status:      StatusPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	return m.count
}

func (m *Manager) update(id int, fn func(*DownloadOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetDescriptor(id int, desc *downloader.Descriptor) {
	m.update(id, func(info *DownloadOutput) {
		info.Label = filepath.Base(desc.DestinationPath)
		info.Status = StatusActive
		info.Message = fmt.Sprintf("Downloading %s", info.Label)
	})
}

func (m *Manager) SetProgress(id int, p *downloader.ProgressSnapshot) {
	m.update(id, func(info *DownloadOutput) {
		info.Status = StatusActive
		info.Progress = p
	})
}

func (m *Manager) SetMessage(id int, status, message string) {
	m.update(id, func(info *DownloadOutput) {
		info.Status = status
		info.Message = message
	})
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(info *DownloadOutput) {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Label)
		}
		info.Message = message
		info.Complete = true
		info.Status = StatusSuccess
	})
}

// Warn finishes id without counting it as a failure.
func (m *Manager) Warn(id int, message string) {
	m.update(id, func(info *DownloadOutput) {
		info.Message = message
		info.Complete = true
		info.Status = StatusWarning
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.update(id, func(info *DownloadOutput) {
		info.Complete = true
		info.Status = StatusError
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Label)
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
	})
}

func (m *Manager) Failures() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.errors)
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusWarning:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) styleMessage(status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusWarning:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

// sorted groups downloads in registration order: running first, then
// waiting, then finished.
func (m *Manager) sorted() (active, pending, completed []*DownloadOutput) {
	all := make([]*DownloadOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, info := range all {
		switch {
		case info.Complete:
			completed = append(completed, info)
		case info.Status == StatusPending:
			pending = append(pending, info)
		default:
			active = append(active, info)
		}
	}
	return active, pending, completed
}

func (m *Manager) render() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	available := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	active, pending, completed := m.sorted()
	needed := 2*len(active) + len(pending) + len(completed)
	if needed > available {
		keep := max(0, available-(needed-len(completed)))
		completed = completed[len(completed)-min(keep, len(completed)):]
	}

	lines := 0
	indent := strings.Repeat(" ", 2)
	for _, info := range active {
		if lines >= available {
			break
		}
		elapsed := time.Since(info.StartTime).Round(time.Second)
		fmt.Fprintf(m.out, "%s%s %s %s\n", indent, m.statusIndicator(info.Status), debugStyle.Render(elapsed.String()), m.styleMessage(info.Status, info.Message))
		lines++
		if info.Progress != nil && lines < available {
			fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 6), streamStyle.Render(progressLine(info.Progress)))
			lines++
		}
	}
	for _, info := range pending {
		if lines >= available {
			break
		}
		fmt.Fprintf(m.out, "%s%s %s\n", indent, m.statusIndicator(info.Status), pendingStyle.Render("Waiting... "+info.Label))
		lines++
	}
	for _, info := range completed {
		if lines >= available {
			break
		}
		total := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		fmt.Fprintf(m.out, "%s%s %s %s\n", indent, m.statusIndicator(info.Status), debugStyle.Render(total.String()), m.styleMessage(info.Status, info.Message))
		lines++
	}
	m.numLines = lines
}

func (m *Manager) StartDisplay() {
	m.started = true
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.render()
			case <-m.doneCh:
				return
			}
		}
	}()
}

// StopDisplay stops live rendering, draws the final state once and prints
// the summary.
func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	if m.started {
		m.render()
	}
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var success, failures int
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			success++
		case StatusError:
			failures++
		}
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if failures > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}
