package artifact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestImages_OnlyImageExtensions(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.png": "A",
		"b.JPG": "B",
		"c.txt": "C",
	})

	got, err := Images(context.Background(), root)
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	want := []Image{
		{Filename: "a.png", Format: "png", Data: base64.StdEncoding.EncodeToString([]byte("A"))},
		{Filename: "b.JPG", Format: "jpg", Data: base64.StdEncoding.EncodeToString([]byte("B"))},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("images (-want +got):\n%s", diff)
	}

	texts, err := Texts(context.Background(), root)
	if err != nil {
		t.Fatalf("Texts: %v", err)
	}
	if diff := cmp.Diff([]Text{{Filename: "c.txt", Content: "C"}}, texts); diff != "" {
		t.Errorf("texts (-want +got):\n%s", diff)
	}
}

func TestImages_NestedLexicalOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vis/page_2.png": "2",
		"vis/page_1.png": "1",
		"cover.jpeg":     "c",
	})
	got, err := Images(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, img := range got {
		names = append(names, img.Filename)
	}
	if diff := cmp.Diff([]string{"cover.jpeg", "vis/page_1.png", "vis/page_2.png"}, names); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestCollect_MissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	imgs, err := Images(context.Background(), missing)
	if err != nil || len(imgs) != 0 {
		t.Errorf("Images(missing) = %v, %v", imgs, err)
	}
	texts, err := Texts(context.Background(), missing)
	if err != nil || len(texts) != 0 {
		t.Errorf("Texts(missing) = %v, %v", texts, err)
	}
}

func TestTexts_PartialFailure(t *testing.T) {
	root := writeTree(t, map[string]string{
		"good.md":     "# title",
		"binary.json": "\xff\xfe\x00",
		"result.json": `{"ok":true}`,
	})
	got, err := Texts(context.Background(), root)
	if err != nil {
		t.Fatalf("Texts: %v", err)
	}
	want := []Text{
		{Filename: "binary.json", Error: "file is not valid UTF-8"},
		{Filename: "good.md", Content: "# title"},
		{Filename: "result.json", Content: `{"ok":true}`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("texts (-want +got):\n%s", diff)
	}
}

func TestTexts_UnreadableFile(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := writeTree(t, map[string]string{"locked.txt": "secret", "open.txt": "hi"})
	if err := os.Chmod(filepath.Join(root, "locked.txt"), 0o000); err != nil {
		t.Fatal(err)
	}
	got, err := Texts(context.Background(), root)
	if err != nil {
		t.Fatalf("Texts: %v", err)
	}
	if len(got) != 2 || got[0].Error == "" || got[1].Content != "hi" {
		t.Errorf("texts = %+v", got)
	}
}

func TestText_MarshalJSON(t *testing.T) {
	ok, _ := json.Marshal(Text{Filename: "empty.txt"})
	if string(ok) != `{"filename":"empty.txt","content":""}` {
		t.Errorf("content form = %s", ok)
	}
	bad, _ := json.Marshal(Text{Filename: "x.txt", Error: "denied"})
	if string(bad) != `{"filename":"x.txt","error":"denied"}` {
		t.Errorf("error form = %s", bad)
	}
}

func TestEncode_KeepsGivenOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"page_1.png":  "1",
		"page_2.png":  "2",
		"page_10.png": "10",
	})
	names := []string{"page_1.png", "page_2.png", "page_10.png"}
	got, err := Encode(context.Background(), root, names)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var order []string
	for _, img := range got {
		order = append(order, img.Filename)
	}
	if diff := cmp.Diff(names, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	if _, err := Encode(context.Background(), root, []string{"missing.png"}); err == nil {
		t.Error("expected error for missing file")
	}
}
