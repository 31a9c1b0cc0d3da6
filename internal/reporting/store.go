package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultReportsDir returns where reports land when no path is given.
func DefaultReportsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskmill", "reports")
}

// DefaultReportPath returns the default path for a markdown report file.
func DefaultReportPath(ts time.Time) string {
	return filepath.Join(DefaultReportsDir(),
		fmt.Sprintf("run-%s.md", ts.Format("2006-01-02-150405")))
}

// DefaultResultsPath returns the default path for a JSON results file.
func DefaultResultsPath(ts time.Time) string {
	return filepath.Join(DefaultReportsDir(),
		fmt.Sprintf("run-%s.json", ts.Format("2006-01-02-150405")))
}

// SaveMarkdown renders a report and writes it to disk.
func SaveMarkdown(r *Report, path string) error {
	content, err := RenderMarkdown(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// SaveJSON writes a report to disk as indented JSON.
func SaveJSON(r *Report, path string) error {
	if r == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// LoadJSON reads a report back from disk.
func LoadJSON(path string) (*Report, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}
