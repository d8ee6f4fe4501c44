package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"extractkit/internal/envelope"
	"extractkit/internal/service"
	"extractkit/internal/workspace"
)

// form reads scalar fields with defaults. The first malformed value is kept
// in err; later reads return defaults.
type form struct {
	r   *http.Request
	err error
}

func (f *form) value(name string) (string, bool) {
	if f.err != nil {
		return "", false
	}
	v := strings.TrimSpace(f.r.FormValue(name))
	return v, v != ""
}

func (f *form) fail(name, v, want string) {
	f.err = fmt.Errorf("%w: %s=%q is not %s", service.ErrInvalidParam, name, v, want)
}

func (f *form) integer(name string, def int) int {
	v, ok := f.value(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f.fail(name, v, "an integer")
		return def
	}
	return n
}

func (f *form) number(name string, def float64) float64 {
	v, ok := f.value(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		f.fail(name, v, "a number")
		return def
	}
	return n
}

func (f *form) boolean(name string, def bool) bool {
	v, ok := f.value(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	f.fail(name, v, "a boolean")
	return def
}

func (f *form) text(name, def string) string {
	v, ok := f.value(name)
	if !ok {
		return def
	}
	return v
}

// intake parses the multipart body and opens the "file" part. On failure it
// writes the response and returns ok=false. The returned cleanup closes the
// part and removes spilled temp files.
func (s *Server) intake(w http.ResponseWriter, r *http.Request) (u workspace.Upload, f *form, cleanup func(), ok bool) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return u, nil, nil, false
		}
		writeDetail(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return u, nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		writeDetail(w, http.StatusBadRequest, "file is required")
		return u, nil, nil, false
	}
	cleanup = func() {
		file.Close()
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Warn("remove multipart temp files", "error", err)
		}
	}
	return workspace.Upload{Filename: header.Filename, Body: file}, &form{r: r}, cleanup, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, envelope.Detail{Detail: detail})
}

// writeResult sends env, or maps err: input errors are 400, anything else 500.
func writeResult(w http.ResponseWriter, env any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, env)
	case service.IsInputError(err):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}
