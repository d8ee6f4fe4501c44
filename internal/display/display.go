// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output and logs. Keep raw codes in JSON fields,
// map keys and equality comparisons.
package display

import "strings"

// --- Engines ---

var engines = map[string]string{
	"layout_detection_yolo":             "Layout Detection (DocLayout-YOLO)",
	"formula_detection_yolo":            "Formula Detection (YOLOv8)",
	"ocr_paddleocr":                     "OCR (PaddleOCR)",
	"ocr_tesseract":                     "OCR (Tesseract)",
	"formula_recognition_nougat":        "Formula Recognition (UniMERNet)",
	"table_parsing_tablestructuremodel": "Table Parsing (StructEqTable)",
}

// Engine returns the human-readable name for an engine id.
// Unknown ids are returned as-is.
func Engine(id string) string {
	if name, ok := engines[id]; ok {
		return name
	}
	return id
}

// --- Output kinds ---

var kinds = map[string]string{
	"pdf_to_images": "PDF Pages",
}

// Kind returns the human-readable name for a saved-output kind. Unknown kinds
// are title-cased from snake_case: "table_dump" -> "Table Dump".
func Kind(code string) string {
	if name, ok := kinds[code]; ok {
		return name
	}
	words := strings.Split(code, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// KindWithCode returns "PDF Pages (pdf_to_images)" format.
func KindWithCode(code string) string {
	name := Kind(code)
	if name == code {
		return code
	}
	return name + " (" + code + ")"
}
