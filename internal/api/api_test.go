package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"extractkit/internal/engine"
	"extractkit/internal/envelope"
	"extractkit/internal/metrics"
	"extractkit/internal/pipeline"
	"extractkit/internal/raster"
	"extractkit/internal/service"
	"extractkit/internal/store"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

type layoutEngine struct{ err error }

func (layoutEngine) Name() string { return "layout" }
func (e layoutEngine) PredictImages(_ context.Context, input, _ string) ([]engine.Result, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, err
	}
	if e.err != nil {
		return nil, e.err
	}
	return []engine.Result{engine.Detections{}}, nil
}

type pagesRaster struct{}

func (pagesRaster) Render(_ context.Context, _, outDir string, _ int, ext string) ([]raster.Page, error) {
	path := filepath.Join(outDir, "page_1."+ext)
	if err := os.WriteFile(path, []byte("page"), 0o644); err != nil {
		return nil, err
	}
	return []raster.Page{{Number: 1, Path: path}}, nil
}

type testServer struct {
	*httptest.Server
	temp string
}

func newTestServer(t *testing.T, layoutErr error, opts ...Option) *testServer {
	t.Helper()
	temp := t.TempDir()
	root := t.TempDir()

	reg := engine.NewRegistry()
	reg.Register(taskspec.EngineLayoutYOLO, "fake", func(map[string]any) (engine.Engine, error) {
		return layoutEngine{err: layoutErr}, nil
	})
	svc := service.New(
		workspace.NewManager(temp, workspace.WithDataDir(filepath.Join(root, "data"))),
		pipeline.New(reg),
		service.WithRoot(root),
		service.WithStore(store.NewMemStore()),
		service.WithRasterizer(pagesRaster{}),
	)
	srv := httptest.NewServer(New(svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, temp: temp}
}

func (s *testServer) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.temp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("workspaces left behind: %d", len(entries))
	}
}

// post sends a multipart request with an optional file part and fields.
func (s *testServer) post(t *testing.T, path, filename string, body []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(body)
	}
	mw.Close()
	resp, err := http.Post(s.URL+Prefix+path, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type rawEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

var onePagePDF = []byte("%PDF-1.4\n1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n" +
	"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n" +
	"3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>endobj\ntrailer<</Root 1 0 R>>\n%%EOF\n")

func TestLayoutDetection_OnePagePDF(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/layout-detection", "paper.pdf", onePagePDF, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decode[rawEnvelope](t, resp)
	if !env.Success || env.Message != "layout detection task complete" {
		t.Fatalf("envelope = %+v", env)
	}
	var results []map[string]json.RawMessage
	if err := json.Unmarshal(env.Results, &results); err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results has %d entries, want 1", len(results))
	}
	if _, ok := results[0]["detections"]; !ok {
		t.Errorf("entry lacks detections: %s", env.Results)
	}
	s.assertNoWorkspaces(t)
}

func TestUpload_DocxRejected(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/upload", "thesis.docx", []byte("PK\x03\x04"), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decode[envelope.Detail](t, resp)
	if !strings.Contains(body.Detail, "unsupported file type") {
		t.Errorf("detail = %q", body.Detail)
	}
	s.assertNoWorkspaces(t)
}

func TestUpload_Echo(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/upload", "scan.png", []byte("png bytes"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	up := decode[envelope.Upload](t, resp)
	if !up.Success || up.FileName != "scan.png" || up.FileType != "png" || up.FileData == "" {
		t.Errorf("upload = %+v", up)
	}
}

func TestMalformedScalar_Is400(t *testing.T) {
	s := newTestServer(t, nil)

	for path, fields := range map[string]map[string]string{
		"/layout-detection":    {"img_size": "abc"},
		"/formula-recognition": {"beam_size": "wide"},
		"/ocr":                 {"det": "maybe"},
		"/pdf-to-images":       {"dpi": "high"},
	} {
		resp := s.post(t, path, "doc.pdf", onePagePDF, fields)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, resp.StatusCode)
			continue
		}
		body := decode[envelope.Detail](t, resp)
		for name := range fields {
			if !strings.Contains(body.Detail, name) {
				t.Errorf("%s: detail %q does not name %s", path, body.Detail, name)
			}
		}
	}
	s.assertNoWorkspaces(t)
}

func TestOutOfRangeParam_Is400(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.post(t, "/layout-detection", "doc.pdf", onePagePDF, map[string]string{"conf_thres": "7"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEngineFailure_Is200Envelope(t *testing.T) {
	s := newTestServer(t, errors.New("model weights missing"))

	resp := s.post(t, "/layout-detection", "doc.pdf", onePagePDF, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	env := decode[rawEnvelope](t, resp)
	if env.Success || env.Message != "layout detection task failed: layout_detection: model weights missing" {
		t.Errorf("envelope = %+v", env)
	}
	if string(env.Results) != "null" {
		t.Errorf("results = %s, want null", env.Results)
	}
	s.assertNoWorkspaces(t)
}

func TestMissingFile_Is400(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.post(t, "/ocr", "", nil, map[string]string{"lang": "en"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[envelope.Detail](t, resp); body.Detail != "file is required" {
		t.Errorf("detail = %q", body.Detail)
	}
}

func TestBodyLimit_Is413(t *testing.T) {
	s := newTestServer(t, nil, WithMaxUpload(1024))
	resp := s.post(t, "/upload", "big.pdf", bytes.Repeat([]byte("x"), 4096), nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	s.assertNoWorkspaces(t)
}

func TestRunProject_InvalidConfigIs400(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.post(t, "/run-project", "doc.pdf", onePagePDF, map[string]string{"config_content": "tasks: 3"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[envelope.Detail](t, resp); !strings.Contains(body.Detail, "invalid task configuration") {
		t.Errorf("detail = %q", body.Detail)
	}
	s.assertNoWorkspaces(t)
}

func TestRunProject_IndentedConfig(t *testing.T) {
	s := newTestServer(t, nil)
	config := "  tasks:\n    layout_detection:\n      model: layout_detection_yolo\n"
	resp := s.post(t, "/run-project", "doc.pdf", onePagePDF, map[string]string{"config_content": config})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decode[rawEnvelope](t, resp)
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}
	var results map[string]json.RawMessage
	json.Unmarshal(env.Results, &results)
	for _, key := range []string{"layout_detection", "visualizations", "text_files"} {
		if _, ok := results[key]; !ok {
			t.Errorf("results lack %q", key)
		}
	}
}

func TestPDFToImagesSave_ThenLookup(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/pdf-to-images-save", "doc.pdf", onePagePDF, map[string]string{"output_format": "webp"})
	env := decode[rawEnvelope](t, resp)
	if !env.Success || env.Message != "PDF converted to 1 images" {
		t.Fatalf("envelope = %+v", env)
	}
	var saved service.SavedPages
	if err := json.Unmarshal(env.Results, &saved); err != nil {
		t.Fatal(err)
	}
	if len(saved.ImagePaths) != 1 || !strings.HasSuffix(saved.ImagePaths[0], "/page_1.png") {
		t.Errorf("image paths = %v", saved.ImagePaths)
	}

	get, err := http.Get(s.URL + Prefix + "/outputs/" + saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d", get.StatusCode)
	}
	rec := decode[store.Output](t, get)
	if rec.ID != saved.ID || rec.SourceName != "doc.pdf" || len(rec.Files) != 1 {
		t.Errorf("record = %+v", rec)
	}

	list, err := http.Get(s.URL + Prefix + "/outputs")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	if all := decode[[]store.Output](t, list); len(all) != 1 {
		t.Errorf("list = %+v", all)
	}
}

func TestOutput_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	resp, err := http.Get(s.URL + Prefix + "/outputs/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPDFToImages_NonPDFIsEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.post(t, "/pdf-to-images", "scan.jpg", []byte("jpg"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decode[rawEnvelope](t, resp)
	if env.Success || env.Message != "only PDF files are accepted" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestRootHealthMetricsCORS(t *testing.T) {
	m := metrics.New()
	s := newTestServer(t, nil, WithMetrics(m.Handler()))

	for path, want := range map[string]string{
		"/":       `"message"`,
		"/health": `{"status":"healthy"}`,
	} {
		resp, err := http.Get(s.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Errorf("%s: %d %s", path, resp.StatusCode, body)
		}
	}

	resp, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics body lacks go collector output")
	}

	req, _ := http.NewRequest(http.MethodOptions, s.URL+Prefix+"/ocr", nil)
	pre, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	pre.Body.Close()
	if pre.StatusCode != http.StatusNoContent || pre.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", pre.StatusCode, pre.Header)
	}
}

func TestForm_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("img_size=640&visualize=yes"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f := &form{r: req}
	d, ok := detection(f)
	if !ok {
		t.Fatalf("detection: %v", f.err)
	}
	want := taskspec.Detection{ImgSize: 640, ConfThres: 0.25, IOUThres: 0.45, Visualize: true}
	if d != want {
		t.Errorf("detection = %+v, want %+v", d, want)
	}
	if got := f.text("lang", "ch"); got != "ch" {
		t.Errorf("lang default = %q", got)
	}
}
