package display

import "testing"

func TestEngine(t *testing.T) {
	cases := []struct {
		id, want string
	}{
		{"layout_detection_yolo", "Layout Detection (DocLayout-YOLO)"},
		{"ocr_paddleocr", "OCR (PaddleOCR)"},
		{"ocr_tesseract", "OCR (Tesseract)"},
		{"table_parsing_tablestructuremodel", "Table Parsing (StructEqTable)"},
		{"my_engine", "my_engine"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Engine(tc.id); got != tc.want {
			t.Errorf("Engine(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		code, want string
	}{
		{"pdf_to_images", "PDF Pages"},
		{"table_dump", "Table Dump"},
		{"single", "Single"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Kind(tc.code); got != tc.want {
			t.Errorf("Kind(%q) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestKindWithCode(t *testing.T) {
	if got := KindWithCode("pdf_to_images"); got != "PDF Pages (pdf_to_images)" {
		t.Errorf("got %q", got)
	}
	if got := KindWithCode(""); got != "" {
		t.Errorf("got %q", got)
	}
}
