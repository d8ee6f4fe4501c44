// Package artifact collects files engines leave under an output tree.
// It is the only place that knows which extensions count as visualizations
// and which as text.
package artifact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Kind selects which files Collect returns.
type Kind int

const (
	KindImage Kind = iota
	KindText
)

var extensions = map[Kind][]string{
	KindImage: {".png", ".jpg", ".jpeg"},
	KindText:  {".txt", ".md", ".json"},
}

// maxReaders bounds concurrent file reads.
const maxReaders = 8

// Image is a Base64-inlined visualization.
type Image struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Data     string `json:"data"`
}

// Text is a text file read verbatim, or the error that prevented reading it.
type Text struct {
	Filename string
	Content  string
	Error    string
}

// MarshalJSON emits {filename, content} or {filename, error}.
func (t Text) MarshalJSON() ([]byte, error) {
	if t.Error != "" {
		return json.Marshal(struct {
			Filename string `json:"filename"`
			Error    string `json:"error"`
		}{t.Filename, t.Error})
	}
	return json.Marshal(struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}{t.Filename, t.Content})
}

// Matches reports whether name has one of kind's extensions, ignoring case.
func Matches(kind Kind, name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions[kind] {
		if ext == e {
			return true
		}
	}
	return false
}

// find walks root in lexical order and returns slash-separated relative
// paths of files matching kind. A missing root yields no files.
func find(root string, kind Kind) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !Matches(kind, d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

// Images Base64-encodes every image under root. Any read error fails the
// whole collection.
func Images(ctx context.Context, root string) ([]Image, error) {
	names, err := find(root, KindImage)
	if err != nil {
		return nil, err
	}
	return Encode(ctx, root, names)
}

// Encode Base64-encodes the named files, given slash-separated and relative to
// root, keeping the order of names.
func Encode(ctx context.Context, root string, names []string) ([]Image, error) {
	out := make([]Image, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxReaders)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
			if err != nil {
				return fmt.Errorf("read image %s: %w", name, err)
			}
			out[i] = Image{
				Filename: name,
				Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
				Data:     base64.StdEncoding.EncodeToString(data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Texts reads every text file under root. A file that cannot be read, or is
// not valid UTF-8, becomes an entry carrying the error; the rest still load.
func Texts(ctx context.Context, root string) ([]Text, error) {
	names, err := find(root, KindText)
	if err != nil {
		return nil, err
	}
	out := make([]Text, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxReaders)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = readText(root, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readText(root, name string) Text {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		return Text{Filename: name, Error: err.Error()}
	}
	if !utf8.Valid(data) {
		return Text{Filename: name, Error: "file is not valid UTF-8"}
	}
	return Text{Filename: name, Content: string(data)}
}
