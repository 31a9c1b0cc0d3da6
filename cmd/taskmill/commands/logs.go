package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marcus/taskmill/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent log output",
	Long: `Print entries from the structured log files.

Shows the most recent lines by default. --follow keeps the stream open
and prints entries as the daemon writes them; --export collects every
file into one plain-text dump.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")
		export, _ := cmd.Flags().GetString("export")

		dir := resolveLogDir()

		switch {
		case export != "":
			return exportLogs(dir, export)
		case follow:
			return followLogs(dir, tail)
		default:
			return showLogs(dir, tail)
		}
	},
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "How many trailing lines to print")
	logsCmd.Flags().BoolP("follow", "f", false, "Keep streaming as new entries arrive")
	logsCmd.Flags().StringP("export", "e", "", "Write all log lines to this file and exit")
	rootCmd.AddCommand(logsCmd)
}

// resolveLogDir honors logging.path from config; a load failure falls back
// to the default location so logs stay viewable with a broken config.
func resolveLogDir() string {
	if cfg, err := loadConfig(); err == nil && cfg.Logging.Path != "" {
		return cfg.Logging.Path
	}
	return logging.DefaultConfig().Path
}

func showLogs(dir string, n int) error {
	files, err := logFilesNewestFirst(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no log files yet")
		return nil
	}

	for _, line := range tailLines(files, n) {
		printLogLine(os.Stdout, line)
	}
	return nil
}

func followLogs(dir string, n int) error {
	files, err := logFilesNewestFirst(dir)
	if err != nil {
		return err
	}
	for _, line := range tailLines(files, n) {
		printLogLine(os.Stdout, line)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch log dir: %w", err)
	}

	// Tail the active day file; new lines from before the watch started
	// were already shown above.
	active := todayLogPath(dir)
	tail := &logTail{}
	if active != "" {
		tail.open(active, true)
	}
	defer tail.close()

	fmt.Println("following new entries (Ctrl+C to stop)")

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Date rollover swaps in a fresh file mid-stream.
			if next := todayLogPath(dir); next != active {
				active = next
				tail.open(active, false)
			}
			if ev.Op.Has(fsnotify.Write) {
				tail.drain(os.Stdout)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch failed: %v\n", werr)
		}
	}
}

func exportLogs(dir, outPath string) error {
	files, err := logFilesNewestFirst(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no log files to export")
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	exported := 0
	for i := len(files) - 1; i >= 0; i-- { // oldest first
		for _, line := range readLines(files[i]) {
			fmt.Fprintln(w, line)
			exported++
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush export file: %w", err)
	}

	fmt.Printf("exported %d lines to %s\n", exported, outPath)
	return nil
}

// logFilesNewestFirst lists the taskmill log files in dir, newest date
// first. A missing directory yields an empty list.
func logFilesNewestFirst(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "taskmill-*.log"))
	if err != nil {
		return nil, fmt.Errorf("list log dir: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// todayLogPath returns the path of today's log file, or "" when none
// exists yet.
func todayLogPath(dir string) string {
	path := filepath.Join(dir, "taskmill-"+time.Now().Format("2006-01-02")+".log")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// tailLines returns the last n lines across files, oldest first. files
// must be ordered newest first.
func tailLines(files []string, n int) []string {
	if n <= 0 {
		return nil
	}

	var chunks [][]string
	total := 0
	for _, path := range files {
		lines := readLines(path)
		chunks = append(chunks, lines)
		total += len(lines)
		if total >= n {
			break
		}
	}

	var out []string
	for i := len(chunks) - 1; i >= 0; i-- {
		out = append(out, chunks[i]...)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// logTail incrementally reads lines appended to the active log file.
type logTail struct {
	file   *os.File
	reader *bufio.Reader
}

func (t *logTail) open(path string, fromEnd bool) {
	t.close()
	f, err := os.Open(path)
	if err != nil {
		return
	}
	if fromEnd {
		_, _ = f.Seek(0, io.SeekEnd)
	}
	t.file = f
	t.reader = bufio.NewReader(f)
}

func (t *logTail) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

func (t *logTail) drain(w io.Writer) {
	if t.reader == nil {
		return
	}
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return
		}
		printLogLine(w, strings.TrimSuffix(line, "\n"))
	}
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// printLogLine renders a JSON log line as "15:04:05 LVL [component] msg";
// lines that do not parse are printed raw.
func printLogLine(w io.Writer, raw string) {
	var entry logEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		fmt.Fprintln(w, raw)
		return
	}

	ts := entry.Time.Format("15:04:05")
	if entry.Component != "" {
		fmt.Fprintf(w, "%s %s [%s] %s", ts, levelTag(entry.Level), entry.Component, entry.Message)
	} else {
		fmt.Fprintf(w, "%s %s %s", ts, levelTag(entry.Level), entry.Message)
	}
	if entry.Error != "" {
		fmt.Fprintf(w, " error=%s", entry.Error)
	}
	fmt.Fprintln(w)
}

var levelTags = map[string]string{
	"debug": "DBG",
	"info":  "INF",
	"warn":  "WRN",
	"error": "ERR",
	"fatal": "FTL",
	"panic": "PNC",
}

func levelTag(level string) string {
	if tag, ok := levelTags[level]; ok {
		return tag
	}
	if len(level) > 3 {
		level = level[:3]
	}
	return strings.ToUpper(level)
}
