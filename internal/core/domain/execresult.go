package domain

import "time"

// ExecResult is the uniform envelope every execution path returns. Callers
// never see transport detail beyond what lands in Error: shell paths put exit
// code and stderr there, HTTP paths put status and body. No transport error
// escapes as a Go error past the executor.
type ExecResult struct {
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// Failure builds a failed result stamped now.
func Failure(msg string, elapsed time.Duration) ExecResult {
	return ExecResult{Success: false, Error: msg, Elapsed: elapsed, Timestamp: time.Now()}
}

// Successful builds a succeeded result stamped now.
func Successful(output string, elapsed time.Duration) ExecResult {
	return ExecResult{Success: true, Output: output, Elapsed: elapsed, Timestamp: time.Now()}
}
