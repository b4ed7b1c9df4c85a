// Package response turns the model's final text into ordered content blocks.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strings"
)

const (
	BlockText  = "text"
	BlockTable = "table"
	BlockData  = "data"
	BlockHTML  = "html"

	TypeUnified = "unified"
)

type Block struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Table is the payload of a table block.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	HTML    string   `json:"html"`
}

type Unified struct {
	Type    string  `json:"type"`
	Content []Block `json:"content"`
	Summary string  `json:"summary"`
}

// Failure is the unified shape used when no answer could be produced.
func Failure(message, summary string) Unified {
	return Unified{
		Type:    TypeUnified,
		Content: []Block{{Type: BlockText, Data: message}},
		Summary: summary,
	}
}

func Parse(text string) Unified {
	if strings.TrimSpace(text) == "" {
		return Failure("No response received", "Empty response")
	}
	blocks := Classify(text)
	summary := Summarize(blocks)
	if len(blocks) == 0 {
		blocks = []Block{{Type: BlockText, Data: "No content could be parsed"}}
	}
	return Unified{Type: TypeUnified, Content: blocks, Summary: summary}
}

var (
	jsonFenceRe  = regexp.MustCompile("(?is)```json(.*?)```")
	htmlFenceRe  = regexp.MustCompile("(?is)```html(.*?)```")
	anyFenceRe   = regexp.MustCompile("(?s)```.*?```")
	paragraphRe  = regexp.MustCompile(`\n\s*\n`)
	trailCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	spaceRunRe   = regexp.MustCompile(`[ \t\x{00a0}]+`)
)

// Classify extracts fenced json, fenced html and bare JSON objects, in that
// order. Whatever prose remains becomes the leading text block.
func Classify(text string) []Block {
	var blocks []Block

	working := jsonFenceRe.ReplaceAllStringFunc(text, func(m string) string {
		raw := strings.TrimSpace(jsonFenceRe.FindStringSubmatch(m)[1])
		if v, ok := decodeValue(raw); ok {
			blocks = append(blocks, classifyValue(v))
		} else {
			blocks = append(blocks, Block{Type: BlockText, Data: "```json\n" + raw + "\n```"})
		}
		return ""
	})

	working = htmlFenceRe.ReplaceAllStringFunc(working, func(m string) string {
		blocks = append(blocks, Block{Type: BlockHTML, Data: strings.TrimSpace(htmlFenceRe.FindStringSubmatch(m)[1])})
		return ""
	})

	working = anyFenceRe.ReplaceAllString(working, "")

	working, bare := extractBareJSON(working)
	for _, v := range bare {
		blocks = append(blocks, classifyObject(v))
	}

	if prose := paragraphs(working); prose != "" {
		blocks = slices.Insert(blocks, 0, Block{Type: BlockText, Data: prose})
	}
	return blocks
}

func paragraphs(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var out []string
	for _, p := range paragraphRe.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// decodeValue parses raw as a single JSON value, retrying once after cleaning
// up the defects models commonly emit. null counts as a failure.
func decodeValue(raw string) (any, bool) {
	if v, err := decode(raw); err == nil {
		return v, true
	}
	v, err := decode(normalizeJSON(raw))
	return v, err == nil
}

// decodeObject is decodeValue restricted to objects.
func decodeObject(raw string) (map[string]any, bool) {
	v, ok := decodeValue(raw)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

func decode(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after value")
	}
	if v == nil {
		return nil, fmt.Errorf("null value")
	}
	return v, nil
}

func normalizeJSON(raw string) string {
	s := strings.ReplaceAll(raw, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\t`, " ")
	s = strings.ReplaceAll(s, "\r", "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = trailCommaRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// classifyValue sends objects through classifyObject; arrays and scalars
// become data blocks as they are.
func classifyValue(v any) Block {
	if obj, ok := v.(map[string]any); ok {
		return classifyObject(obj)
	}
	return Block{Type: BlockData, Data: v}
}

// classifyObject maps a decoded object to its block. Charts and every
// other analytic shape travel as data.
func classifyObject(v map[string]any) Block {
	if t, _ := v["type"].(string); strings.EqualFold(t, "table") {
		return Block{Type: BlockTable, Data: toTable(v)}
	}
	return Block{Type: BlockData, Data: v}
}

func toTable(v map[string]any) Table {
	t := Table{}
	cols, okCols := v["columns"].([]any)
	rows, okRows := v["rows"].([]any)
	if !okCols || !okRows {
		t.HTML = "<p>Invalid table data</p>"
		return t
	}
	for _, c := range cols {
		t.Columns = append(t.Columns, cellString(c))
	}
	for _, r := range rows {
		switch row := r.(type) {
		case []any:
			t.Rows = append(t.Rows, row)
		case map[string]any:
			cells := make([]any, len(t.Columns))
			for i, c := range t.Columns {
				cells[i] = row[c]
			}
			t.Rows = append(t.Rows, cells)
		default:
			t.Columns, t.Rows = nil, nil
			t.HTML = "<p>Invalid table data</p>"
			return t
		}
	}
	t.HTML = RenderTable(t.Columns, t.Rows)
	return t
}

// RenderTable renders the bordered HTML table clients display as is.
func RenderTable(columns []string, rows [][]any) string {
	var b bytes.Buffer
	b.WriteString("<table border='1' cellspacing='0' cellpadding='5'><thead><tr>")
	for _, c := range columns {
		b.WriteString("<th>" + html.EscapeString(c) + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td>" + html.EscapeString(cellString(cell)) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// Summarize describes the block composition for logs and history views.
// Only chart-shaped data blocks are described as charts.
func Summarize(blocks []Block) string {
	var kinds []string
	for _, b := range blocks {
		k := b.Type
		if k == BlockData && isChart(b.Data) {
			k = kindChart
		}
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	has := func(k string) bool { return slices.Contains(kinds, k) }

	switch {
	case len(kinds) == 1 && kinds[0] == BlockText:
		return "Text response"
	case has(BlockTable) && has(BlockText):
		return "Analysis with data table"
	case has(kindChart) && has(BlockText):
		return "Analysis with chart visualization"
	case has(BlockTable) && has(kindChart):
		return "Data analysis with table and chart"
	case has(BlockTable):
		return "Data table"
	case has(kindChart):
		return "Chart visualization"
	default:
		return "Mixed content: " + strings.Join(kinds, ", ")
	}
}

const kindChart = "chart"

func isChart(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	t, _ := obj["type"].(string)
	return strings.EqualFold(t, kindChart)
}
