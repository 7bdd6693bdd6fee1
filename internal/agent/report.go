package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// ReportFilename derives a deterministic markdown filename from the goal
// and a timestamp.
func ReportFilename(goal string, at time.Time) string {
	safe := unsafeChars.ReplaceAllString(goal, "")
	safe = whitespace.ReplaceAllString(safe, "_")
	if len(safe) > 60 {
		safe = safe[:60]
	}
	return fmt.Sprintf("%s_%s.md", safe, at.Format("20060102_150405"))
}

// SaveReport writes the report body to dir and returns the full path.
func SaveReport(dir, goal string, report *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, ReportFilename(goal, time.Now()))
	if err := os.WriteFile(path, []byte(report.Body), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
