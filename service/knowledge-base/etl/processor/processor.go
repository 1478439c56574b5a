package processor

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0

	// MaxDocumentBytes 与向量库 page_content 字段的最大长度一致
	MaxDocumentBytes = 65535
)

var defaultSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

// Options 单个文件的解析和切分参数
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Separator    string

	// JQSchema 仅对 JSON 文件生效
	JQSchema string

	// Clean 切分之前对文本做的预处理
	Clean func(string) string
}

// Parser 知识文件解析器，输出已切分的文档
type Parser interface {
	// 判断是否支持传入的扩展名（小写、不含点）
	CanProcess(ext string) bool

	Parse(ctx context.Context, path string, opts Options) ([]schema.Document, error)
}

// Registry 按扩展名查找解析器，找不到时使用兜底解析器
type Registry struct {
	parsers  []Parser
	fallback Parser
}

func NewRegistry(fallback Parser, parsers ...Parser) *Registry {
	return &Registry{
		parsers:  parsers,
		fallback: fallback,
	}
}

// NewDefaultRegistry 注册全部内置解析器
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		&FallbackParser{},
		&TextParser{},
		&MarkdownParser{},
		&CSVParser{},
		&HTMLParser{},
		&JSONParser{},
		&PDFParser{},
	)
}

func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

func (r *Registry) Lookup(ext string) Parser {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, p := range r.parsers {
		if p.CanProcess(ext) {
			return p
		}
	}
	return r.fallback
}

func newSplitter(opts Options) textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(splitterOptions(opts)...)
}

func splitterOptions(opts Options) []textsplitter.Option {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	separators := defaultSeparators
	if opts.Separator != "" {
		separators = []string{opts.Separator, ""}
	}
	return []textsplitter.Option{
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
	}
}

// cleanDocuments 执行预处理并丢弃空白文档
func cleanDocuments(docs []schema.Document, opts Options) []schema.Document {
	cleaned := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		if opts.Clean != nil {
			doc.PageContent = opts.Clean(doc.PageContent)
		}
		if strings.TrimSpace(doc.PageContent) == "" {
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		cleaned = append(cleaned, doc)
	}
	return cleaned
}

// cleanAndSplit 先预处理再按窗口切分
func cleanAndSplit(docs []schema.Document, opts Options) ([]schema.Document, error) {
	docs = cleanDocuments(docs, opts)
	if len(docs) == 0 {
		return nil, nil
	}
	chunks, err := textsplitter.SplitDocuments(newSplitter(opts), docs)
	if err != nil {
		return nil, fmt.Errorf("failed to split documents: %w", err)
	}
	return cleanDocuments(chunks, Options{}), nil
}

// splitOversized 只拆分超过 limit 字节的文档，拆出的部分保留原文档的元数据并记录窗口序号
func splitOversized(docs []schema.Document, limit int) ([]schema.Document, error) {
	var splitter textsplitter.TextSplitter
	out := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		if len(doc.PageContent) <= limit {
			out = append(out, doc)
			continue
		}
		if splitter == nil {
			splitter = textsplitter.NewRecursiveCharacter(
				textsplitter.WithChunkSize(limit),
				textsplitter.WithChunkOverlap(0),
				textsplitter.WithSeparators(defaultSeparators),
				textsplitter.WithLenFunc(func(s string) int { return len(s) }),
			)
		}
		parts, err := splitter.SplitText(doc.PageContent)
		if err != nil {
			return nil, fmt.Errorf("failed to split oversized document: %w", err)
		}
		for i, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			metadata := maps.Clone(doc.Metadata)
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["window"] = i + 1
			out = append(out, schema.Document{PageContent: part, Metadata: metadata})
		}
	}
	return out, nil
}

func openFile(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return f, info.Size(), nil
}

// SplitText 对一段纯文本执行预处理和切分
func SplitText(text string, opts Options) ([]schema.Document, error) {
	return cleanAndSplit([]schema.Document{{PageContent: text, Metadata: map[string]any{}}}, opts)
}
