// Package mcp exposes the extraction operations as MCP tools. Files travel
// Base64-encoded in the tool arguments; answers are the same envelopes the
// HTTP API returns.
package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"extractkit/internal/engine"
	"extractkit/internal/envelope"
	"extractkit/internal/logging"
	"extractkit/internal/raster"
	"extractkit/internal/service"
	"extractkit/internal/store"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

// Catalog lists the engines known to the process.
type Catalog interface {
	Infos() []engine.Info
}

// Server wraps the MCP SDK server around a service.
type Server struct {
	MCPServer *sdkmcp.Server

	svc     *service.Service
	catalog Catalog
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog enables the list_engines tool.
func WithCatalog(c Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// NewServer creates an MCP server with one tool per operation.
func NewServer(svc *service.Service, version string, opts ...Option) *Server {
	s := &Server{svc: svc, logger: logging.New("mcp")}
	for _, opt := range opts {
		opt(s)
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "extractkit", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "layout_detection",
		Description: "Detect layout regions (titles, text blocks, figures, tables) in an image or PDF.",
	}, s.handleLayoutDetection)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "ocr",
		Description: "Recognize text lines in an image or PDF.",
	}, s.handleOCR)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "formula_detection",
		Description: "Detect inline and display formulas in an image or PDF.",
	}, s.handleFormulaDetection)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "formula_recognition",
		Description: "Recognize formula images as LaTeX.",
	}, s.handleFormulaRecognition)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "table_parsing",
		Description: "Parse table images into structured markup.",
	}, s.handleTableParsing)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "pdf2markdown",
		Description: "Run layout, formula and OCR stages over a document and optionally merge them into Markdown.",
	}, s.handlePDF2Markdown)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_project",
		Description: "Run a YAML task configuration against a document.",
	}, s.handleRunProject)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "pdf_to_images",
		Description: "Render every page of a PDF to an image and return them Base64-encoded.",
	}, s.handlePDFToImages)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_outputs",
		Description: "List outputs persisted by pdf-to-images-save.",
	}, s.handleListOutputs)

	if s.catalog != nil {
		sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
			Name:        "list_engines",
			Description: "List registered engines and whether they can run.",
		}, s.handleListEngines)
	}
}

// --- Tool input/output types ---

// fileInput is the file carried by every operation tool.
type fileInput struct {
	name, data string
}

type detectionInput struct {
	FileName   string   `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64 string   `json:"file_base64" jsonschema:"file content, standard Base64"`
	ImgSize    *int     `json:"img_size,omitempty" jsonschema:"inference image size (default 1024)"`
	ConfThres  *float64 `json:"conf_thres,omitempty" jsonschema:"confidence threshold in [0,1] (default 0.25)"`
	IOUThres   *float64 `json:"iou_thres,omitempty" jsonschema:"IoU threshold in [0,1] (default 0.45)"`
	Visualize  bool     `json:"visualize,omitempty" jsonschema:"also return annotated images"`
}

type ocrInput struct {
	FileName    string `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64  string `json:"file_base64" jsonschema:"file content, standard Base64"`
	Lang        string `json:"lang,omitempty" jsonschema:"recognition language (default ch)"`
	UseAngleCls *bool  `json:"use_angle_cls,omitempty" jsonschema:"use the angle classifier (default true)"`
	Det         *bool  `json:"det,omitempty" jsonschema:"run text detection (default true)"`
	Rec         *bool  `json:"rec,omitempty" jsonschema:"run text recognition (default true)"`
	Cls         *bool  `json:"cls,omitempty" jsonschema:"run orientation classification (default true)"`
	Visualize   bool   `json:"visualize,omitempty" jsonschema:"also return annotated images"`
}

type formulaRecognitionInput struct {
	FileName     string `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64   string `json:"file_base64" jsonschema:"file content, standard Base64"`
	BeamSize     *int   `json:"beam_size,omitempty" jsonschema:"decoder beam size (default 5)"`
	MaxSeqLength *int   `json:"max_seq_length,omitempty" jsonschema:"maximum token count (default 400)"`
	Visualize    bool   `json:"visualize,omitempty" jsonschema:"also return annotated images"`
}

type tableParsingInput struct {
	FileName   string `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64 string `json:"file_base64" jsonschema:"file content, standard Base64"`
	Visualize  bool   `json:"visualize,omitempty" jsonschema:"also return annotated images"`
}

type pdf2MarkdownInput struct {
	FileName   string `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64 string `json:"file_base64" jsonschema:"file content, standard Base64"`
	Merge      *bool  `json:"merge2markdown,omitempty" jsonschema:"merge stage results into Markdown (default true)"`
	RenderHTML bool   `json:"render_html,omitempty" jsonschema:"also render the merged Markdown as HTML"`
}

type runProjectInput struct {
	FileName      string `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64    string `json:"file_base64" jsonschema:"file content, standard Base64"`
	ConfigContent string `json:"config_content" jsonschema:"YAML task configuration"`
}

type pdfToImagesInput struct {
	FileName     string `json:"file_name" jsonschema:"original file name; its extension selects the file type"`
	FileBase64   string `json:"file_base64" jsonschema:"file content, standard Base64"`
	DPI          int    `json:"dpi,omitempty" jsonschema:"render resolution (default 200)"`
	OutputFormat string `json:"output_format,omitempty" jsonschema:"png, jpg or jpeg (default png)"`
}

type emptyInput struct{}

type listOutputsOutput struct {
	Outputs []outputInfo `json:"outputs"`
}

type outputInfo struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	SourceName string   `json:"source_name"`
	OutputDir  string   `json:"output_dir"`
	Files      []string `json:"files"`
	CreatedAt  string   `json:"created_at"`
}

func toOutputInfo(o *store.Output) outputInfo {
	return outputInfo{
		ID:         o.ID,
		Kind:       o.Kind,
		SourceName: o.SourceName,
		OutputDir:  o.OutputDir,
		Files:      o.Files,
		CreatedAt:  o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type listEnginesOutput struct {
	Engines []engineInfo `json:"engines"`
}

type engineInfo struct {
	ID        string `json:"id"`
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// --- Tool handlers ---

// upload decodes the Base64 payload. Decoding failures are input errors.
func (in fileInput) upload() (workspace.Upload, error) {
	if in.name == "" {
		return workspace.Upload{}, fmt.Errorf("%w: file_name is required", service.ErrInvalidParam)
	}
	data, err := base64.StdEncoding.DecodeString(in.data)
	if err != nil {
		return workspace.Upload{}, fmt.Errorf("%w: file_base64: %v", service.ErrInvalidParam, err)
	}
	return workspace.Upload{Filename: in.name, Body: bytes.NewReader(data)}, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// run decodes in and invokes op. Service input errors become tool errors;
// everything else is already inside the envelope.
func (s *Server) run(tool string, in fileInput, op func(workspace.Upload) (envelope.Envelope, error)) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	u, err := in.upload()
	if err != nil {
		return nil, envelope.Envelope{}, err
	}
	env, err := op(u)
	if err != nil {
		s.logger.Warn("tool rejected", "tool", tool, "file", in.name, "error", err)
		return nil, envelope.Envelope{}, fmt.Errorf("%s: %w", tool, err)
	}
	return nil, env, nil
}

func (in detectionInput) detection() taskspec.Detection {
	def := taskspec.DefaultDetection()
	return taskspec.Detection{
		ImgSize:   intOr(in.ImgSize, def.ImgSize),
		ConfThres: floatOr(in.ConfThres, def.ConfThres),
		IOUThres:  floatOr(in.IOUThres, def.IOUThres),
		Visualize: in.Visualize,
	}
}

func (s *Server) handleLayoutDetection(ctx context.Context, _ *sdkmcp.CallToolRequest, in detectionInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	return s.run("layout_detection", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.LayoutDetection(ctx, u, in.detection())
	})
}

func (s *Server) handleOCR(ctx context.Context, _ *sdkmcp.CallToolRequest, in ocrInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	def := taskspec.DefaultOCR()
	o := taskspec.OCRParams{
		UseAngleCls: boolOr(in.UseAngleCls, def.UseAngleCls),
		Lang:        def.Lang,
		Det:         boolOr(in.Det, def.Det),
		Rec:         boolOr(in.Rec, def.Rec),
		Cls:         boolOr(in.Cls, def.Cls),
	}
	if in.Lang != "" {
		o.Lang = in.Lang
	}
	return s.run("ocr", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.OCR(ctx, u, o, in.Visualize)
	})
}

func (s *Server) handleFormulaDetection(ctx context.Context, _ *sdkmcp.CallToolRequest, in detectionInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	return s.run("formula_detection", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.FormulaDetection(ctx, u, in.detection())
	})
}

func (s *Server) handleFormulaRecognition(ctx context.Context, _ *sdkmcp.CallToolRequest, in formulaRecognitionInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	def := taskspec.DefaultFormulaRecognition()
	p := taskspec.FormulaRecognitionParams{
		BeamSize:     intOr(in.BeamSize, def.BeamSize),
		MaxSeqLength: intOr(in.MaxSeqLength, def.MaxSeqLength),
	}
	return s.run("formula_recognition", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.FormulaRecognition(ctx, u, p, in.Visualize)
	})
}

func (s *Server) handleTableParsing(ctx context.Context, _ *sdkmcp.CallToolRequest, in tableParsingInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	return s.run("table_parsing", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.TableParsing(ctx, u, in.Visualize)
	})
}

func (s *Server) handlePDF2Markdown(ctx context.Context, _ *sdkmcp.CallToolRequest, in pdf2MarkdownInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	opts := service.MarkdownOptions{Merge: boolOr(in.Merge, true), RenderHTML: in.RenderHTML}
	return s.run("pdf2markdown", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.PDF2Markdown(ctx, u, opts)
	})
}

func (s *Server) handleRunProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in runProjectInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	return s.run("run_project", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.RunProject(ctx, u, []byte(in.ConfigContent))
	})
}

func (s *Server) handlePDFToImages(ctx context.Context, _ *sdkmcp.CallToolRequest, in pdfToImagesInput) (*sdkmcp.CallToolResult, envelope.Envelope, error) {
	dpi := in.DPI
	if dpi == 0 {
		dpi = raster.DefaultDPI
	}
	format := in.OutputFormat
	if format == "" {
		format = "png"
	}
	return s.run("pdf_to_images", fileInput{in.FileName, in.FileBase64}, func(u workspace.Upload) (envelope.Envelope, error) {
		return s.svc.PDFToImages(ctx, u, dpi, format)
	})
}

func (s *Server) handleListOutputs(_ context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, listOutputsOutput, error) {
	outs, err := s.svc.Outputs()
	if err != nil {
		return nil, listOutputsOutput{}, fmt.Errorf("list outputs: %w", err)
	}
	out := listOutputsOutput{Outputs: make([]outputInfo, len(outs))}
	for i, o := range outs {
		out.Outputs[i] = toOutputInfo(o)
	}
	return nil, out, nil
}

func (s *Server) handleListEngines(_ context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, listEnginesOutput, error) {
	infos := s.catalog.Infos()
	out := listEnginesOutput{Engines: make([]engineInfo, len(infos))}
	for i, in := range infos {
		out.Engines[i] = engineInfo{ID: in.ID, Backend: in.Backend, Available: in.Available, Reason: in.Reason}
	}
	return nil, out, nil
}
