// Package taskspec describes which task engines a request runs, with what
// parameters, against which workspace paths. Specs are plain values: building
// one never touches the filesystem and never invokes an engine.
package taskspec

import (
	"fmt"
	"maps"
)

// Kind is the closed set of task kinds the service knows about.
type Kind string

const (
	KindLayoutDetection    Kind = "layout_detection"
	KindOCR                Kind = "ocr"
	KindFormulaDetection   Kind = "formula_detection"
	KindFormulaRecognition Kind = "formula_recognition"
	KindTableParsing       Kind = "table_parsing"
	// KindCustom covers task names outside the known set; such tasks only
	// carry the opaque parameter bag.
	KindCustom Kind = "custom"
)

// KindOf maps a task name to its kind.
func KindOf(taskName string) Kind {
	switch k := Kind(taskName); k {
	case KindLayoutDetection, KindOCR, KindFormulaDetection, KindFormulaRecognition, KindTableParsing:
		return k
	}
	return KindCustom
}

// Engine identifiers.
const (
	EngineLayoutYOLO               = "layout_detection_yolo"
	EngineOCRPaddle                = "ocr_paddleocr"
	EngineOCRTesseract             = "ocr_tesseract"
	EngineFormulaDetectionYOLO     = "formula_detection_yolo"
	EngineFormulaRecognitionNougat = "formula_recognition_nougat"
	EngineTableStructure           = "table_parsing_tablestructuremodel"
)

// Result keys a project run adds after its tasks. Tasks may not use them as names.
const (
	VisualizationsKey = "visualizations"
	TextFilesKey      = "text_files"
)

// Params is the typed parameter set of one task. Implementations are the
// per-kind structs in this package.
type Params interface {
	Kind() Kind
	// Map renders the parameters in engine config form (model_config keys).
	Map() map[string]any
}

// Detection holds the knobs shared by detection-style engines.
type Detection struct {
	ImgSize   int     `yaml:"img_size"`
	ConfThres float64 `yaml:"conf_thres"`
	IOUThres  float64 `yaml:"iou_thres"`
	ModelPath string  `yaml:"model_path"`
	Visualize bool    `yaml:"visualize"`
}

// DefaultDetection returns img_size=1024, conf_thres=0.25, iou_thres=0.45.
func DefaultDetection() Detection {
	return Detection{ImgSize: 1024, ConfThres: 0.25, IOUThres: 0.45}
}

func (d Detection) Map() map[string]any {
	m := map[string]any{
		"img_size":   d.ImgSize,
		"conf_thres": d.ConfThres,
		"iou_thres":  d.IOUThres,
		"visualize":  d.Visualize,
	}
	if d.ModelPath != "" {
		m["model_path"] = d.ModelPath
	}
	return m
}

type LayoutParams struct {
	Detection `yaml:",inline"`
}

func (LayoutParams) Kind() Kind { return KindLayoutDetection }

type FormulaDetectionParams struct {
	Detection `yaml:",inline"`
}

func (FormulaDetectionParams) Kind() Kind { return KindFormulaDetection }

type OCRParams struct {
	UseAngleCls bool   `yaml:"use_angle_cls"`
	Lang        string `yaml:"lang"`
	Det         bool   `yaml:"det"`
	Rec         bool   `yaml:"rec"`
	Cls         bool   `yaml:"cls"`
}

// DefaultOCR returns use_angle_cls, det, rec, cls all on and lang "ch".
func DefaultOCR() OCRParams {
	return OCRParams{UseAngleCls: true, Lang: "ch", Det: true, Rec: true, Cls: true}
}

func (OCRParams) Kind() Kind { return KindOCR }

func (p OCRParams) Map() map[string]any {
	return map[string]any{
		"use_angle_cls": p.UseAngleCls,
		"lang":          p.Lang,
		"det":           p.Det,
		"rec":           p.Rec,
		"cls":           p.Cls,
	}
}

type FormulaRecognitionParams struct {
	BeamSize     int    `yaml:"beam_size"`
	MaxSeqLength int    `yaml:"max_seq_length"`
	ModelPath    string `yaml:"model_path"`
}

// DefaultFormulaRecognition returns beam_size=5, max_seq_length=400.
func DefaultFormulaRecognition() FormulaRecognitionParams {
	return FormulaRecognitionParams{BeamSize: 5, MaxSeqLength: 400}
}

func (FormulaRecognitionParams) Kind() Kind { return KindFormulaRecognition }

func (p FormulaRecognitionParams) Map() map[string]any {
	m := map[string]any{
		"beam_size":      p.BeamSize,
		"max_seq_length": p.MaxSeqLength,
	}
	if p.ModelPath != "" {
		m["model_path"] = p.ModelPath
	}
	return m
}

type TableParams struct {
	StructureModelPath string `yaml:"structure_model_path"`
	CellModelPath      string `yaml:"cell_model_path"`
	Visualize          bool   `yaml:"visualize"`
}

func (TableParams) Kind() Kind { return KindTableParsing }

func (p TableParams) Map() map[string]any {
	m := map[string]any{"visualize": p.Visualize}
	if p.StructureModelPath != "" {
		m["structure_model_path"] = p.StructureModelPath
	}
	if p.CellModelPath != "" {
		m["cell_model_path"] = p.CellModelPath
	}
	return m
}

// CustomParams is the empty typed set of a KindCustom task.
type CustomParams struct{}

func (CustomParams) Kind() Kind          { return KindCustom }
func (CustomParams) Map() map[string]any { return map[string]any{} }

// Task is one entry of a Spec.
type Task struct {
	Name   string
	Engine string
	Params Params
	// Extra holds engine-specific knobs outside the typed set.
	Extra map[string]any
}

// Kind returns the task's kind, derived from its typed params.
func (t Task) Kind() Kind {
	if t.Params == nil {
		return KindCustom
	}
	return t.Params.Kind()
}

// Config merges typed params and Extra into the engine config map. Typed
// values win over Extra keys of the same name.
func (t Task) Config() map[string]any {
	out := make(map[string]any, len(t.Extra)+8)
	maps.Copy(out, t.Extra)
	if t.Params != nil {
		maps.Copy(out, t.Params.Map())
	}
	return out
}

// Paths are the workspace locations a spec is bound to.
type Paths struct {
	Input  string
	Output string
}

// Spec is an ordered list of tasks bound to one workspace.
type Spec struct {
	Paths
	Visualize bool
	Tasks     []Task
}

// Names returns task names in order.
func (s Spec) Names() []string {
	names := make([]string, len(s.Tasks))
	for i, t := range s.Tasks {
		names[i] = t.Name
	}
	return names
}

// Single returns the only task of a one-task spec.
func (s Spec) Single() (Task, error) {
	if len(s.Tasks) != 1 {
		return Task{}, fmt.Errorf("expected exactly one task, spec has %d", len(s.Tasks))
	}
	return s.Tasks[0], nil
}
