package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// 匹配形如 "# xxx ## xxx" 的chunk
var headerOnlyRegex = regexp.MustCompile(`^\s*(?:#{1,6}\s+.+\n?)+\s*$`)

// MarkdownParser 按标题层级切分，过大的段落再按字符递归切分
type MarkdownParser struct{}

var _ Parser = &MarkdownParser{}

func (p *MarkdownParser) CanProcess(ext string) bool {
	return ext == "md" || ext == "markdown"
}

func (p *MarkdownParser) Parse(ctx context.Context, path string, opts Options) ([]schema.Document, error) {
	f, _, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading markdown: %w", err)
	}
	docs = cleanDocuments(docs, opts)
	if len(docs) == 0 {
		return nil, nil
	}

	base := splitterOptions(opts)
	splitter := textsplitter.NewMarkdownTextSplitter(append(base,
		textsplitter.WithHeadingHierarchy(true), // 保留父级标题信息
		textsplitter.WithSecondSplitter(textsplitter.NewRecursiveCharacter(base...)),
	)...)

	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("error splitting markdown: %w", err)
	}
	return filterStandaloneHeaders(chunks), nil
}

// filterStandaloneHeaders 过滤只有孤立标题的chunk
func filterStandaloneHeaders(docs []schema.Document) []schema.Document {
	var filtered []schema.Document
	for _, doc := range docs {
		content := strings.TrimSpace(doc.PageContent)
		if content == "" || headerOnlyRegex.MatchString(content) {
			continue
		}
		filtered = append(filtered, doc)
	}
	return filtered
}
