package taskspec

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks a caller-supplied task document that could not be
// parsed or validated. It is an input error, not an engine error.
var ErrInvalidConfig = errors.New("invalid task configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

var knownKeys = map[Kind][]string{
	KindLayoutDetection:    {"img_size", "conf_thres", "iou_thres", "model_path", "visualize"},
	KindFormulaDetection:   {"img_size", "conf_thres", "iou_thres", "model_path", "visualize"},
	KindOCR:                {"use_angle_cls", "lang", "det", "rec", "cls"},
	KindFormulaRecognition: {"beam_size", "max_seq_length", "model_path"},
	KindTableParsing:       {"structure_model_path", "cell_model_path", "visualize"},
}

// Parse reads a declarative task document:
//
//	visualize: false
//	tasks:
//	  layout_detection:
//	    model: layout_detection_yolo
//	    model_config:
//	      img_size: 1024
//
// Task order follows the document. Top-level inputs/outputs keys are ignored;
// the spec is always bound to p.
func Parse(data []byte, p Paths) (Spec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Spec{}, invalid("parse yaml: %v", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return Spec{}, invalid("empty document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return Spec{}, invalid("top level must be a mapping")
	}

	spec := Spec{Paths: p}
	var tasks *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		switch key.Value {
		case "tasks":
			tasks = val
		case "visualize":
			if err := val.Decode(&spec.Visualize); err != nil {
				return Spec{}, invalid("visualize: %v", err)
			}
		}
	}
	if tasks == nil {
		return Spec{}, invalid("missing tasks mapping")
	}
	if tasks.Kind != yaml.MappingNode {
		return Spec{}, invalid("tasks must be a mapping")
	}
	if len(tasks.Content) == 0 {
		return Spec{}, invalid("no tasks declared")
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(tasks.Content); i += 2 {
		name := strings.TrimSpace(tasks.Content[i].Value)
		if name == "" {
			return Spec{}, invalid("task with empty name")
		}
		if name == VisualizationsKey || name == TextFilesKey {
			return Spec{}, invalid("task name %q is reserved", name)
		}
		if seen[name] {
			return Spec{}, invalid("task %q declared twice", name)
		}
		seen[name] = true
		t, err := parseTask(name, tasks.Content[i+1])
		if err != nil {
			return Spec{}, err
		}
		spec.Tasks = append(spec.Tasks, t)
	}
	return spec, nil
}

func parseTask(name string, n *yaml.Node) (Task, error) {
	if n.Kind != yaml.MappingNode {
		return Task{}, invalid("task %q: entry must be a mapping", name)
	}
	var entry struct {
		Model       string    `yaml:"model"`
		ModelConfig yaml.Node `yaml:"model_config"`
	}
	if err := n.Decode(&entry); err != nil {
		return Task{}, invalid("task %q: %v", name, err)
	}
	if strings.TrimSpace(entry.Model) == "" {
		return Task{}, invalid("task %q: model is required", name)
	}

	var cfg *yaml.Node
	switch {
	case entry.ModelConfig.Kind == 0:
	case entry.ModelConfig.Kind == yaml.ScalarNode && entry.ModelConfig.Tag == "!!null":
	case entry.ModelConfig.Kind == yaml.MappingNode:
		cfg = &entry.ModelConfig
	default:
		return Task{}, invalid("task %q: model_config must be a mapping", name)
	}

	kind := KindOf(name)
	params, err := decodeParams(kind, cfg)
	if err != nil {
		return Task{}, invalid("task %q: model_config: %v", name, err)
	}
	extra, err := decodeExtra(kind, cfg)
	if err != nil {
		return Task{}, invalid("task %q: model_config: %v", name, err)
	}
	return Task{
		Name:   name,
		Engine: strings.TrimSpace(entry.Model),
		Params: params,
		Extra:  extra,
	}, nil
}

func decodeParams(kind Kind, cfg *yaml.Node) (Params, error) {
	var dst Params
	switch kind {
	case KindLayoutDetection:
		dst = &LayoutParams{DefaultDetection()}
	case KindFormulaDetection:
		dst = &FormulaDetectionParams{DefaultDetection()}
	case KindOCR:
		p := DefaultOCR()
		dst = &p
	case KindFormulaRecognition:
		p := DefaultFormulaRecognition()
		dst = &p
	case KindTableParsing:
		dst = &TableParams{}
	default:
		return CustomParams{}, nil
	}
	if cfg != nil {
		if err := cfg.Decode(dst); err != nil {
			return nil, err
		}
	}
	return deref(dst), nil
}

// deref stores decoded params by value, matching what Builder produces.
func deref(p Params) Params {
	switch v := p.(type) {
	case *LayoutParams:
		return *v
	case *FormulaDetectionParams:
		return *v
	case *OCRParams:
		return *v
	case *FormulaRecognitionParams:
		return *v
	case *TableParams:
		return *v
	}
	return p
}

func decodeExtra(kind Kind, cfg *yaml.Node) (map[string]any, error) {
	if cfg == nil {
		return nil, nil
	}
	var all map[string]any
	if err := cfg.Decode(&all); err != nil {
		return nil, err
	}
	for _, k := range knownKeys[kind] {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
