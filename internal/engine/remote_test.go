package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/tiff"
)

func writeInput(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRemoteDetector_PredictImages(t *testing.T) {
	var gotParams predictParams
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/engines/layout_detection_yolo/predict" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "doc.pdf" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		if err := json.Unmarshal([]byte(r.FormValue("params")), &gotParams); err != nil {
			t.Errorf("params: %v", err)
		}
		w.Write([]byte(`{
			"results": [
				{"boxes": [[1, 2, 3, 4]], "classes": [0], "scores": [0.9]},
				{"note": "blank page"}
			],
			"artifacts": [{"path": "vis/page_1.png", "data": "aGVsbG8="}]
		}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL+"/", "secret", WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatal(err)
	}
	eng, _ := client.DetectorFactory("layout_detection_yolo")(map[string]any{"img_size": 1024, "visualize": true})
	det := eng.(Detector)

	out := t.TempDir()
	results, err := det.PredictImages(context.Background(), writeInput(t, "doc.pdf", []byte("%PDF-1.7")), out)
	if err != nil {
		t.Fatalf("PredictImages: %v", err)
	}

	want := []Result{
		Detections{Boxes: [][]float64{{1, 2, 3, 4}}, Classes: []float64{0}, Scores: []float64{0.9}},
		Opaque{Value: map[string]any{"note": "blank page"}},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	if gotParams.Mode != ModePredictImages || !gotParams.Visualize || gotParams.Config["img_size"] != float64(1024) {
		t.Errorf("params = %+v", gotParams)
	}
	data, err := os.ReadFile(filepath.Join(out, "vis", "page_1.png"))
	if err != nil || string(data) != "hello" {
		t.Errorf("artifact = %q, %v", data, err)
	}
}

func TestRemoteProcessor_Process(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p predictParams
		json.Unmarshal([]byte(r.FormValue("params")), &p)
		if p.Mode != ModeProcess {
			t.Errorf("mode = %q", p.Mode)
		}
		w.Write([]byte(`{"result": {"text": ["E = mc^2"]}}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "", WithHTTPClient(server.Client()))
	eng, _ := client.ProcessorFactory("formula_recognition_nougat")(nil)
	res, err := eng.(Processor).Process(context.Background(), writeInput(t, "f.png", []byte("png")), t.TempDir(), false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := Opaque{Value: map[string]any{"text": []any{"E = mc^2"}}}
	if diff := cmp.Diff(Result(want), res); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
}

func TestClient_TIFFSentAsPNG(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else if hdr.Filename != "scan.png" {
			t.Errorf("filename = %q, want scan.png", hdr.Filename)
		}
		w.Write([]byte(`{"result": null}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Black)
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	client, _ := NewClient(server.URL, "", WithHTTPClient(server.Client()))
	if _, err := client.Predict(context.Background(), "ocr_paddleocr", ModeProcess,
		writeInput(t, "scan.tiff", buf.Bytes()), nil, false); err != nil {
		t.Fatalf("Predict: %v", err)
	}
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail": "model not loaded"}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "", WithHTTPClient(server.Client()))
	_, err := client.Predict(context.Background(), "ocr_paddleocr", ModeProcess,
		writeInput(t, "a.png", []byte("x")), nil, false)
	if !HasStatusCode(err, http.StatusServiceUnavailable) {
		t.Fatalf("err = %v, want 503 APIError", err)
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("message lost: %v", err)
	}
	if IsNotFound(err) {
		t.Error("IsNotFound should be false")
	}
}

func TestClient_RejectedCallIsLogged(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   []string
	}{
		{"unauthorized", http.StatusUnauthorized, []string{"status=401", "message=\"bad token\"", "engines.api_key"}},
		{"not found", http.StatusNotFound, []string{"status=404", "operation=\"predict ocr_paddleocr\"", "not served"}},
		{"server error", http.StatusInternalServerError, []string{"status=500", "message=\"bad token\""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"detail": "bad token"}`))
			}))
			defer server.Close()

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			client, _ := NewClient(server.URL, "k", WithHTTPClient(server.Client()), WithLogger(logger))
			_, err := client.Predict(context.Background(), "ocr_paddleocr", ModeProcess,
				writeInput(t, "a.png", []byte("x")), nil, false)
			if !HasStatusCode(err, tt.status) {
				t.Fatalf("err = %v, want HTTP %d", err, tt.status)
			}
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log missing %q:\n%s", w, out)
				}
			}
			if tt.status == http.StatusInternalServerError && strings.Contains(out, "hint=") {
				t.Errorf("unexpected hint:\n%s", out)
			}
		})
	}
}

func TestNewClient_TimeoutLeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{}
	client, err := NewClient("http://localhost:1", "", WithHTTPClient(shared), WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if shared.Timeout != 0 {
		t.Errorf("shared client timeout = %s, want 0", shared.Timeout)
	}
	if client.httpClient == shared || client.httpClient.Timeout != 3*time.Second {
		t.Errorf("client timeout = %s, want own copy with 3s", client.httpClient.Timeout)
	}
}

func TestWriteArtifacts_RejectsEscape(t *testing.T) {
	dir := t.TempDir()
	err := WriteArtifacts(dir, []Artifact{{Path: "../evil.png", Data: []byte("x")}})
	if err == nil {
		t.Fatal("expected error for escaping path")
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "evil.png")); !os.IsNotExist(statErr) {
		t.Error("artifact written outside dir")
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Fatal("expected error")
	}
}
