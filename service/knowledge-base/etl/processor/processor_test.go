package processor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		ext  string
		want Parser
	}{
		{"txt", &TextParser{}},
		{".MD", &MarkdownParser{}},
		{"markdown", &MarkdownParser{}},
		{"csv", &CSVParser{}},
		{"htm", &HTMLParser{}},
		{"json", &JSONParser{}},
		{"jsonl", &JSONParser{}},
		{"pdf", &PDFParser{}},
		{"docx", &FallbackParser{}},
		{"", &FallbackParser{}},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.IsType(t, tt.want, r.Lookup(tt.ext))
		})
	}
}

func TestTextParser_SplitsByWindow(t *testing.T) {
	content := strings.Repeat("word ", 100)
	path := writeFile(t, "a.txt", content)

	docs, err := (&TextParser{}).Parse(context.Background(), path, Options{ChunkSize: 50})
	require.NoError(t, err)
	require.Greater(t, len(docs), 1)
	for _, d := range docs {
		assert.LessOrEqual(t, len([]rune(d.PageContent)), 50)
		assert.NotEmpty(t, strings.TrimSpace(d.PageContent))
	}
}

func TestTextParser_CustomSeparator(t *testing.T) {
	path := writeFile(t, "a.txt", "alpha|beta|gamma")

	docs, err := (&TextParser{}).Parse(context.Background(), path, Options{ChunkSize: 6, Separator: "|"})
	require.NoError(t, err)

	var texts []string
	for _, d := range docs {
		texts = append(texts, strings.Trim(d.PageContent, "|"))
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, texts)
}

func TestTextParser_WhitespaceOnly(t *testing.T) {
	path := writeFile(t, "blank.txt", "  \n\n\t ")

	docs, err := (&TextParser{}).Parse(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestTextParser_AppliesClean(t *testing.T) {
	path := writeFile(t, "a.txt", "Hello WORLD")

	docs, err := (&TextParser{}).Parse(context.Background(), path, Options{Clean: strings.ToLower})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello world", docs[0].PageContent)
}

func TestMarkdownParser_DropsStandaloneHeaders(t *testing.T) {
	content := "# Title\n\n## Section A\n\nSome content under section A.\n\n## Section B\n\nMore content under B.\n"
	path := writeFile(t, "doc.md", content)

	docs, err := (&MarkdownParser{}).Parse(context.Background(), path, Options{ChunkSize: 200})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	for _, d := range docs {
		assert.False(t, headerOnlyRegex.MatchString(strings.TrimSpace(d.PageContent)), d.PageContent)
	}
	joined := docs[0].PageContent
	for _, d := range docs[1:] {
		joined += "\n" + d.PageContent
	}
	assert.Contains(t, joined, "Some content under section A.")
	assert.Contains(t, joined, "More content under B.")
}

func TestFilterStandaloneHeaders(t *testing.T) {
	docs := filterStandaloneHeaders(nil)
	assert.Empty(t, docs)

	assert.True(t, headerOnlyRegex.MatchString("# a\n## b"))
	assert.False(t, headerOnlyRegex.MatchString("# a\nbody"))
}

func TestCSVParser_OneDocumentPerRow(t *testing.T) {
	path := writeFile(t, "people.csv", "name,age\nalice,30\nbob,25\n")

	docs, err := (&CSVParser{}).Parse(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Contains(t, docs[0].PageContent, "alice")
	assert.Contains(t, docs[0].PageContent, "name")
	assert.Contains(t, docs[1].PageContent, "bob")
}

func TestHTMLParser(t *testing.T) {
	content := `<html><head><title>Guide</title><style>.x{}</style></head>
<body><script>var a = 1;</script><h1>Install</h1><p>Run the <b>installer</b>.</p><ul><li>step one</li></ul></body></html>`
	path := writeFile(t, "page.html", content)

	docs, err := (&HTMLParser{}).Parse(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Guide", docs[0].Metadata["title"])
	assert.Contains(t, docs[0].PageContent, "Install")
	assert.Contains(t, docs[0].PageContent, "Run the installer.")
	assert.Contains(t, docs[0].PageContent, "step one")
	assert.NotContains(t, docs[0].PageContent, "var a")
}

func TestJSONParser(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		jq       string
		expected []string
	}{
		{
			name:     "default iterates array",
			file:     "a.json",
			content:  `["first", "second"]`,
			expected: []string{"first", "second"},
		},
		{
			name:     "default iterates object values",
			file:     "a.json",
			content:  `{"a": "x", "b": {"c": 1}}`,
			expected: []string{"x", `{"c": 1}`},
		},
		{
			name:     "nested field of every element",
			file:     "a.json",
			content:  `{"items": [{"text": "one"}, {"text": "two"}, {"other": 3}]}`,
			jq:       ".items[].text",
			expected: []string{"one", "two"},
		},
		{
			name:     "index and quoted key",
			file:     "a.json",
			content:  `{"the data": [{"v": "a"}, {"v": "b"}]}`,
			jq:       `."the data"[-1].v`,
			expected: []string{"b"},
		},
		{
			name:     "bracket key",
			file:     "a.json",
			content:  `{"a.b": "dotted"}`,
			jq:       `.["a.b"]`,
			expected: []string{"dotted"},
		},
		{
			name:     "jsonl whole line by default",
			file:     "a.jsonl",
			content:  "{\"q\": \"hi\"}\n\n{\"q\": \"bye\"}\n",
			expected: []string{`{"q": "hi"}`, `{"q": "bye"}`},
		},
		{
			name:     "jsonl with query",
			file:     "a.jsonl",
			content:  "{\"q\": \"hi\"}\n{\"q\": \"bye\"}\n",
			jq:       ".q",
			expected: []string{"hi", "bye"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			docs, err := (&JSONParser{}).Parse(context.Background(), path, Options{JQSchema: tt.jq, ChunkSize: 2})
			require.NoError(t, err)

			var got []string
			for _, d := range docs {
				got = append(got, d.PageContent)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestJSONParser_Invalid(t *testing.T) {
	path := writeFile(t, "bad.json", `{"a": `)
	_, err := (&JSONParser{}).Parse(context.Background(), path, Options{})
	assert.ErrorIs(t, err, ErrInvalidJSON)

	path = writeFile(t, "ok.json", `[]`)
	_, err = (&JSONParser{}).Parse(context.Background(), path, Options{JQSchema: "items"})
	assert.Error(t, err)
}

func TestJSONParser_WindowsOversizedElements(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 20000))
	unbroken := strings.Repeat("x", MaxDocumentBytes+10)
	content := `["short", "` + long + `", "` + unbroken + `"]`
	path := writeFile(t, "big.json", content)

	docs, err := (&JSONParser{}).Parse(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Greater(t, len(docs), 3)

	assert.Equal(t, "short", docs[0].PageContent)
	assert.Equal(t, 1, docs[0].Metadata["seq_num"])
	assert.NotContains(t, docs[0].Metadata, "window")

	bySeq := map[int]string{}
	for _, d := range docs {
		assert.LessOrEqual(t, len(d.PageContent), MaxDocumentBytes)
		seq := d.Metadata["seq_num"].(int)
		if seq == 1 {
			continue
		}
		assert.Contains(t, d.Metadata, "window")
		bySeq[seq] += d.PageContent
	}
	assert.Equal(t, strings.ReplaceAll(long, " ", ""), strings.ReplaceAll(bySeq[2], " ", ""))
	assert.Equal(t, unbroken, bySeq[3])
}

func TestParseJQ(t *testing.T) {
	steps, err := parseJQ(".a.b[].c[2]")
	require.NoError(t, err)
	assert.Equal(t, []jqStep{
		{key: "a"},
		{key: "b"},
		{iterate: true},
		{key: "c"},
		{index: 2, byIndex: true},
	}, steps)

	steps, err = parseJQ(" . ")
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = parseJQ(".a[")
	assert.Error(t, err)
	_, err = parseJQ(`."open`)
	assert.Error(t, err)
}
