package scanning

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// DefaultTitleHint is used when the head of a receipt has no usable text
const DefaultTitleHint = "レシート"

// amountPattern matches a monetary amount with an optional currency glyph.
// Thousands-grouped amounts are tried first so that an ungrouped figure such
// as 1030 is read as one token.
var amountPattern = regexp.MustCompile(`[¥￥]?\s*([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{2})?|[0-9]+(?:\.[0-9]{2})?)`)

// Line is one priced item read from receipt text
type Line struct {
	Name   string
	Amount float64
}

// ParseResult is the outcome of ParseLines. Total is nil when the text holds
// no positive amount at all.
type ParseResult struct {
	Lines     []Line
	Total     *float64
	TitleHint string
}

// ParseLines reads priced items out of recognized receipt text. The last
// amount on a line is taken as that line's price and the largest amount on
// the receipt as its total. It never fails; noisy input just yields fewer
// lines.
func ParseLines(text string) ParseResult {
	lines := splitLines(width.Fold.String(text))

	var total *float64
	result := ParseResult{Lines: []Line{}}

	for _, line := range lines {
		matches := amountPattern.FindAllStringSubmatchIndex(line, -1)
		if len(matches) == 0 {
			continue
		}

		for _, m := range matches {
			if v := parseAmount(line[m[2]:m[3]]); v > 0 && (total == nil || v > *total) {
				total = &v
			}
		}

		last := matches[len(matches)-1]
		amount := parseAmount(line[last[2]:last[3]])
		name := stripCurrency(line[:last[0]] + line[last[1]:])
		if amount <= 0 || name == "" {
			continue
		}
		result.Lines = append(result.Lines, Line{Name: name, Amount: amount})
	}

	result.Total = total
	result.TitleHint = titleHint(lines)
	return result
}

func splitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseAmount(token string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func stripCurrency(s string) string {
	s = strings.NewReplacer("¥", "", "￥", "").Replace(s)
	return strings.TrimSpace(s)
}

// titleHint takes the first three lines without their amounts
func titleHint(lines []string) string {
	if len(lines) > 3 {
		lines = lines[:3]
	}
	head := amountPattern.ReplaceAllString(strings.Join(lines, " "), "")
	if hint := strings.Join(strings.Fields(head), " "); hint != "" {
		return hint
	}
	return DefaultTitleHint
}
