// Package envelope defines the response shapes returned by every operation.
package envelope

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Envelope is the uniform {success, message, results} wrapper. Results is
// null on failure.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Results any    `json:"results"`
}

// OK wraps a successful result.
func OK(message string, results any) Envelope {
	return Envelope{Success: true, Message: message, Results: results}
}

// Fail is a handled failure with a caller-facing message.
func Fail(message string) Envelope {
	return Envelope{Message: message}
}

// TaskFailed formats an engine or normalization failure of operation.
func TaskFailed(operation string, err error) Envelope {
	return Fail(fmt.Sprintf("%s task failed: %v", operation, err))
}

// Upload is the answer of the upload operation: the payload echoed back
// Base64-encoded together with its name and type.
type Upload struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	FileData string `json:"file_data"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

// FileType is the lower-cased extension of name without the dot.
func FileType(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Detail is the body of a rejected request.
type Detail struct {
	Detail string `json:"detail"`
}
