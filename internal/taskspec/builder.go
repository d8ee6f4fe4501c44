package taskspec

// Builder turns validated endpoint parameters into Specs. Each endpoint owns
// one method; all of them are pure.
type Builder struct {
	// Models maps engine ids to weight paths filled into model_path-style keys.
	Models map[string]string
	// OCREngine selects the engine behind the "ocr" task; empty means PaddleOCR.
	OCREngine string
}

func (b Builder) model(engine string) string {
	return b.Models[engine]
}

func (b Builder) ocrEngine() string {
	if b.OCREngine == "" {
		return EngineOCRPaddle
	}
	return b.OCREngine
}

func (b Builder) withModel(d Detection, engine string) Detection {
	if d.ModelPath == "" {
		d.ModelPath = b.model(engine)
	}
	return d
}

// LayoutDetection builds the single-task layout spec.
func (b Builder) LayoutDetection(p Paths, d Detection) Spec {
	return Spec{
		Paths:     p,
		Visualize: d.Visualize,
		Tasks: []Task{{
			Name:   string(KindLayoutDetection),
			Engine: EngineLayoutYOLO,
			Params: LayoutParams{b.withModel(d, EngineLayoutYOLO)},
		}},
	}
}

// OCR builds the single-task OCR spec. visualize is a spec-level switch for
// OCR, passed to the engine call rather than its config.
func (b Builder) OCR(p Paths, o OCRParams, visualize bool) Spec {
	return Spec{
		Paths:     p,
		Visualize: visualize,
		Tasks: []Task{{
			Name:   string(KindOCR),
			Engine: b.ocrEngine(),
			Params: o,
		}},
	}
}

// FormulaDetection builds the single-task formula detection spec.
func (b Builder) FormulaDetection(p Paths, d Detection) Spec {
	return Spec{
		Paths:     p,
		Visualize: d.Visualize,
		Tasks: []Task{{
			Name:   string(KindFormulaDetection),
			Engine: EngineFormulaDetectionYOLO,
			Params: FormulaDetectionParams{b.withModel(d, EngineFormulaDetectionYOLO)},
		}},
	}
}

// FormulaRecognition builds the single-task formula recognition spec.
func (b Builder) FormulaRecognition(p Paths, r FormulaRecognitionParams, visualize bool) Spec {
	if r.ModelPath == "" {
		r.ModelPath = b.model(EngineFormulaRecognitionNougat)
	}
	return Spec{
		Paths:     p,
		Visualize: visualize,
		Tasks: []Task{{
			Name:   string(KindFormulaRecognition),
			Engine: EngineFormulaRecognitionNougat,
			Params: r,
		}},
	}
}

// TableParsing builds the single-task table parsing spec.
func (b Builder) TableParsing(p Paths, visualize bool) Spec {
	return Spec{
		Paths:     p,
		Visualize: visualize,
		Tasks: []Task{{
			Name:   string(KindTableParsing),
			Engine: EngineTableStructure,
			Params: TableParams{
				StructureModelPath: b.model(EngineTableStructure),
				Visualize:          visualize,
			},
		}},
	}
}

// CompositeOrder is the fixed stage order of the document pipeline.
var CompositeOrder = []Kind{
	KindLayoutDetection,
	KindOCR,
	KindFormulaDetection,
	KindFormulaRecognition,
}

// PDF2Markdown builds the four-stage composite spec in CompositeOrder.
func (b Builder) PDF2Markdown(p Paths) Spec {
	rec := DefaultFormulaRecognition()
	rec.ModelPath = b.model(EngineFormulaRecognitionNougat)
	return Spec{
		Paths: p,
		Tasks: []Task{
			{
				Name:   string(KindLayoutDetection),
				Engine: EngineLayoutYOLO,
				Params: LayoutParams{b.withModel(DefaultDetection(), EngineLayoutYOLO)},
			},
			{
				Name:   string(KindOCR),
				Engine: b.ocrEngine(),
				Params: DefaultOCR(),
			},
			{
				Name:   string(KindFormulaDetection),
				Engine: EngineFormulaDetectionYOLO,
				Params: FormulaDetectionParams{b.withModel(DefaultDetection(), EngineFormulaDetectionYOLO)},
			},
			{
				Name:   string(KindFormulaRecognition),
				Engine: EngineFormulaRecognitionNougat,
				Params: rec,
			},
		},
	}
}

// Project returns the spec of a run-project call: the parsed caller document,
// or the composite default when content is blank.
func (b Builder) Project(p Paths, content []byte) (Spec, error) {
	if isBlank(content) {
		return b.PDF2Markdown(p), nil
	}
	return Parse(content, p)
}

func isBlank(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
