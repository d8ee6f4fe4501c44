package workspace

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned when an upload's extension is not accepted.
// It is checked before any workspace exists.
var ErrUnsupportedType = errors.New("unsupported file type")

// Kind is the inferred media kind of an upload.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

var allowedExtensions = map[string]Kind{
	".pdf":  KindPDF,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".tif":  KindImage,
	".tiff": KindImage,
}

// Upload is one uploaded document: the declared filename and a rewindable body.
type Upload struct {
	Filename string
	Body     io.ReadSeeker
}

// Ext returns the lower-cased extension of the declared filename, dot included.
func (u Upload) Ext() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// Kind infers pdf or image from the extension. It is only meaningful after
// CheckExtension succeeded.
func (u Upload) Kind() Kind {
	return allowedExtensions[u.Ext()]
}

// CheckExtension is the single pre-acquisition validation gate. It looks at the
// extension only, never at the content.
func CheckExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		if ext == "" {
			ext = "(none)"
		}
		return fmt.Errorf("%w: %s. Only PDF or image files are allowed", ErrUnsupportedType, ext)
	}
	return nil
}

// IsPDF reports whether filename carries a .pdf extension (case-insensitive).
func IsPDF(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

// stagedName reduces the declared filename to a single safe path element.
func stagedName(filename string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(filename, `\`, "/")))
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return name, nil
}

// stage writes the upload body to path and rewinds the body, so the original
// payload can be read again by the caller.
func stage(u Upload, write func(io.Reader) error) error {
	if u.Body == nil {
		return errors.New("upload has no body")
	}
	if _, err := u.Body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	if err := write(u.Body); err != nil {
		return err
	}
	if _, err := u.Body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	return nil
}
