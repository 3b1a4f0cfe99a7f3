package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stages a run can stop at. Post failures report the submitter's own step
// (compose, text, media, submit).
const (
	StageCredentials = "credentials"
	StageContent     = "content"
	StageImage       = "image"
	StageValidate    = "validate"
	StageLaunch      = "launch"
	StageAuth        = "auth"
)

// Report is the outcome of a runner operation. It is always returned, never
// an error, so the CLI can print a summary for every run.
type Report struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	// Stage is where a failed run stopped.
	Stage string `json:"stage,omitempty"`

	RunID        string        `json:"run_id"`
	AuthState    string        `json:"auth_state,omitempty"`
	SessionSaved bool          `json:"session_saved"`
	Confirmed    bool          `json:"confirmed"`
	Text         string        `json:"text,omitempty"`
	ImagePrompt  string        `json:"image_prompt,omitempty"`
	MediaPath    string        `json:"media_path,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	// Err is the underlying error of a failed run, when there is one.
	Err error `json:"-"`
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// WriteJSON writes the report to path, creating parent directories.
func (r *Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
