package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/schema"
)

const (
	defaultJSONQuery  = ".[]"
	defaultJSONLQuery = "."

	maxJSONLLineSize = 16 * 1024 * 1024
)

var ErrInvalidJSON = errors.New("invalid json document")

// JSONParser 用 jq 风格的路径选取元素，每个元素即一个 chunk，不再按 ChunkSize 切分
// 超过 MaxDocumentBytes 的元素按字节窗口拆成多个 chunk
// 支持 .key ."quoted key" .[] .key[] .[n] .["key"]
type JSONParser struct{}

var _ Parser = &JSONParser{}

func (p *JSONParser) CanProcess(ext string) bool {
	return ext == "json" || ext == "jsonl"
}

func (p *JSONParser) Parse(_ context.Context, path string, opts Options) ([]schema.Document, error) {
	jsonLines := strings.HasSuffix(strings.ToLower(path), ".jsonl")

	query := opts.JQSchema
	if query == "" {
		query = defaultJSONQuery
		if jsonLines {
			query = defaultJSONLQuery
		}
	}
	steps, err := parseJQ(query)
	if err != nil {
		return nil, err
	}

	f, _, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var roots []gjson.Result
	if jsonLines {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLineSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !gjson.Valid(line) {
				return nil, fmt.Errorf("%w: line %d", ErrInvalidJSON, lineNo)
			}
			roots = append(roots, gjson.Parse(line))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read jsonl: %w", err)
		}
	} else {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read json: %w", err)
		}
		if !gjson.ValidBytes(data) {
			return nil, ErrInvalidJSON
		}
		roots = append(roots, gjson.ParseBytes(data))
	}

	var docs []schema.Document
	for _, root := range roots {
		for _, v := range evalJQ([]gjson.Result{root}, steps) {
			docs = append(docs, schema.Document{
				PageContent: jsonText(v),
				Metadata: map[string]any{
					"seq_num": len(docs) + 1,
				},
			})
		}
	}
	return splitOversized(cleanDocuments(docs, opts), MaxDocumentBytes)
}

// jsonText 字符串取原值，其余类型保留 JSON 文本
func jsonText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}

type jqStep struct {
	key     string
	index   int
	iterate bool
	byIndex bool
}

func parseJQ(expr string) ([]jqStep, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "." {
		return nil, nil
	}
	if !strings.HasPrefix(expr, ".") {
		return nil, fmt.Errorf("unsupported jq schema %q: must start with '.'", expr)
	}

	var steps []jqStep
	for i := 0; i < len(expr); {
		switch expr[i] {
		case '.':
			i++
			if i >= len(expr) || expr[i] == '[' {
				continue
			}
			if expr[i] == '"' {
				key, n, err := readQuoted(expr[i:])
				if err != nil {
					return nil, fmt.Errorf("unsupported jq schema %q: %v", expr, err)
				}
				steps = append(steps, jqStep{key: key})
				i += n
				continue
			}
			j := i
			for j < len(expr) && expr[j] != '.' && expr[j] != '[' {
				j++
			}
			steps = append(steps, jqStep{key: expr[i:j]})
			i = j
		case '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unsupported jq schema %q: unclosed '['", expr)
			}
			inner := strings.TrimSpace(expr[i+1 : i+end])
			switch {
			case inner == "":
				steps = append(steps, jqStep{iterate: true})
			case strings.HasPrefix(inner, `"`):
				key, _, err := readQuoted(inner)
				if err != nil {
					return nil, fmt.Errorf("unsupported jq schema %q: %v", expr, err)
				}
				steps = append(steps, jqStep{key: key})
			default:
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, fmt.Errorf("unsupported jq schema %q: bad index %q", expr, inner)
				}
				steps = append(steps, jqStep{index: n, byIndex: true})
			}
			i += end + 1
		default:
			return nil, fmt.Errorf("unsupported jq schema %q at offset %d", expr, i)
		}
	}
	return steps, nil
}

func readQuoted(s string) (string, int, error) {
	for j := 1; j < len(s); j++ {
		if s[j] == '\\' {
			j++
			continue
		}
		if s[j] == '"' {
			key, err := strconv.Unquote(s[:j+1])
			if err != nil {
				return "", 0, err
			}
			return key, j + 1, nil
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func evalJQ(values []gjson.Result, steps []jqStep) []gjson.Result {
	for _, step := range steps {
		var next []gjson.Result
		for _, v := range values {
			switch {
			case step.iterate:
				if v.IsArray() || v.IsObject() {
					v.ForEach(func(_, value gjson.Result) bool {
						next = append(next, value)
						return true
					})
				}
			case step.byIndex:
				arr := v.Array()
				idx := step.index
				if idx < 0 {
					idx += len(arr)
				}
				if v.IsArray() && idx >= 0 && idx < len(arr) {
					next = append(next, arr[idx])
				}
			default:
				if r := v.Get(escapeGJSONKey(step.key)); r.Exists() {
					next = append(next, r)
				}
			}
		}
		values = next
	}
	return values
}

func escapeGJSONKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
