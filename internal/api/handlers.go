package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"extractkit/internal/raster"
	"extractkit/internal/service"
	"extractkit/internal/store"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

// call is one operation on a parsed intake. It returns the payload to send
// and the service error. A call that finds a malformed form value returns
// early; the handler answers 400 from form.err.
type call func(r *http.Request, u workspace.Upload, f *form) (any, error)

// operation adapts c to an HTTP handler.
func (s *Server) operation(c call) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, f, cleanup, ok := s.intake(w, r)
		if !ok {
			return
		}
		defer cleanup()
		res, err := c(r, u, f)
		if f.err != nil {
			writeDetail(w, http.StatusBadRequest, f.err.Error())
			return
		}
		writeResult(w, res, err)
	}
}

// detection reads the shared detection fields. It returns ok=false when a
// field was malformed, so the caller must not run the operation.
func detection(f *form) (taskspec.Detection, bool) {
	def := taskspec.DefaultDetection()
	d := taskspec.Detection{
		ImgSize:   f.integer("img_size", def.ImgSize),
		ConfThres: f.number("conf_thres", def.ConfThres),
		IOUThres:  f.number("iou_thres", def.IOUThres),
		Visualize: f.boolean("visualize", false),
	}
	return d, f.err == nil
}

func (s *Server) upload(r *http.Request, u workspace.Upload, _ *form) (any, error) {
	return s.svc.Upload(r.Context(), u)
}

func (s *Server) layoutDetection(r *http.Request, u workspace.Upload, f *form) (any, error) {
	d, ok := detection(f)
	if !ok {
		return nil, nil
	}
	return s.svc.LayoutDetection(r.Context(), u, d)
}

func (s *Server) ocr(r *http.Request, u workspace.Upload, f *form) (any, error) {
	def := taskspec.DefaultOCR()
	o := taskspec.OCRParams{
		UseAngleCls: f.boolean("use_angle_cls", def.UseAngleCls),
		Lang:        f.text("lang", def.Lang),
		Det:         f.boolean("det", def.Det),
		Rec:         f.boolean("rec", def.Rec),
		Cls:         f.boolean("cls", def.Cls),
	}
	visualize := f.boolean("visualize", false)
	if f.err != nil {
		return nil, nil
	}
	return s.svc.OCR(r.Context(), u, o, visualize)
}

func (s *Server) formulaDetection(r *http.Request, u workspace.Upload, f *form) (any, error) {
	d, ok := detection(f)
	if !ok {
		return nil, nil
	}
	return s.svc.FormulaDetection(r.Context(), u, d)
}

func (s *Server) formulaRecognition(r *http.Request, u workspace.Upload, f *form) (any, error) {
	def := taskspec.DefaultFormulaRecognition()
	p := taskspec.FormulaRecognitionParams{
		BeamSize:     f.integer("beam_size", def.BeamSize),
		MaxSeqLength: f.integer("max_seq_length", def.MaxSeqLength),
	}
	visualize := f.boolean("visualize", false)
	if f.err != nil {
		return nil, nil
	}
	return s.svc.FormulaRecognition(r.Context(), u, p, visualize)
}

func (s *Server) tableParsing(r *http.Request, u workspace.Upload, f *form) (any, error) {
	visualize := f.boolean("visualize", false)
	if f.err != nil {
		return nil, nil
	}
	return s.svc.TableParsing(r.Context(), u, visualize)
}

func (s *Server) pdf2Markdown(r *http.Request, u workspace.Upload, f *form) (any, error) {
	opts := service.MarkdownOptions{
		Merge:      f.boolean("merge2markdown", true),
		RenderHTML: f.boolean("render_html", false),
	}
	if f.err != nil {
		return nil, nil
	}
	return s.svc.PDF2Markdown(r.Context(), u, opts)
}

func (s *Server) runProject(r *http.Request, u workspace.Upload, _ *form) (any, error) {
	// Read verbatim: YAML indentation is significant.
	return s.svc.RunProject(r.Context(), u, []byte(r.FormValue("config_content")))
}

func pageParams(f *form) (int, string) {
	return f.integer("dpi", raster.DefaultDPI), f.text("output_format", "png")
}

func (s *Server) pdfToImages(r *http.Request, u workspace.Upload, f *form) (any, error) {
	dpi, format := pageParams(f)
	if f.err != nil {
		return nil, nil
	}
	return s.svc.PDFToImages(r.Context(), u, dpi, format)
}

func (s *Server) pdfToImagesSave(r *http.Request, u workspace.Upload, f *form) (any, error) {
	dpi, format := pageParams(f)
	if f.err != nil {
		return nil, nil
	}
	return s.svc.PDFToImagesSave(r.Context(), u, dpi, format)
}

func (s *Server) handleOutputs(w http.ResponseWriter, _ *http.Request) {
	list, err := s.svc.Outputs()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Output(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}
