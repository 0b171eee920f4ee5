package scanning

import (
	"context"
	"fmt"
	"strings"
)

// DefaultLanguage is the script receipts are recognized in unless configured otherwise
const DefaultLanguage = "jpn"

// Engine recognizes the free text printed on a receipt image
type Engine interface {
	// Recognize returns the text of one receipt. progress, when non-nil, is
	// called with values in [0,1] as the engine makes headway.
	Recognize(ctx context.Context, data []byte, contentType, language string, progress func(float64)) (string, error)
	// Close releases resources held by the engine
	Close() error
}

// Item is one priced line of a scanned receipt
type Item struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// ReceiptData is the structured result of scanning a receipt
type ReceiptData struct {
	StoreName string   `json:"storeName"`
	Items     []Item   `json:"items"`
	Total     *float64 `json:"total"`
}

// Scanner turns a receipt image into structured data
type Scanner interface {
	ScanReceipt(ctx context.Context, data []byte, contentType string) (*ReceiptData, error)
}

// FromParse converts parsed receipt text into ReceiptData
func FromParse(p ParseResult) *ReceiptData {
	items := make([]Item, 0, len(p.Lines))
	for _, l := range p.Lines {
		items = append(items, Item{Name: l.Name, Amount: l.Amount})
	}
	return &ReceiptData{StoreName: p.TitleHint, Items: items, Total: p.Total}
}

// TextScanner scans receipts by recognizing their text with an Engine and
// parsing the result line by line
type TextScanner struct {
	engine   Engine
	language string
}

// NewTextScanner creates a TextScanner. An empty language selects DefaultLanguage.
func NewTextScanner(engine Engine, language string) *TextScanner {
	if language == "" {
		language = DefaultLanguage
	}
	return &TextScanner{engine: engine, language: language}
}

// ScanReceipt recognizes and parses one receipt
func (s *TextScanner) ScanReceipt(ctx context.Context, data []byte, contentType string) (*ReceiptData, error) {
	text, err := s.engine.Recognize(ctx, data, contentType, s.language, nil)
	if err != nil {
		return nil, fmt.Errorf("recognizing receipt: %w", err)
	}
	return FromParse(ParseLines(text)), nil
}

// languageNames maps recognition language codes to the names used in prompts
var languageNames = map[string]string{
	"jpn":     "Japanese",
	"eng":     "English",
	"kor":     "Korean",
	"chi_sim": "Simplified Chinese",
	"chi_tra": "Traditional Chinese",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// transcriptionPrompt asks a vision model for a verbatim transcription
func transcriptionPrompt(language string) string {
	return fmt.Sprintf(`Transcribe every line of text printed on this receipt exactly as it appears.
The receipt is written mostly in %s.

Rules:
- Output one printed line per output line, top to bottom
- Keep item names and prices on the same line, price last
- Keep currency symbols and digit grouping as printed
- Do not translate, summarize or add commentary
- Do not use markdown code blocks`, languageName(language))
}

// cleanTranscript strips markdown fences some models wrap their answer in
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// clamp bounds a progress value to [0,1]
func clamp(p float64) float64 {
	switch {
	case p != p || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// chunkProgress estimates progress after n streamed chunks, approaching but
// never reaching completion
func chunkProgress(n int) float64 {
	return 0.95 * float64(n) / float64(n+4)
}
