package processor

import (
	"context"
	"fmt"

	"code.sajari.com/docconv/v2"
	"github.com/tmc/langchaingo/schema"
)

// FallbackParser 未注册的格式交给 docconv 转换为纯文本（docx、odt、rtf、xml 等）
type FallbackParser struct{}

var _ Parser = &FallbackParser{}

func (p *FallbackParser) CanProcess(string) bool {
	return true
}

func (p *FallbackParser) Parse(_ context.Context, path string, opts Options) ([]schema.Document, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}

	metadata := map[string]any{}
	for k, v := range res.Meta {
		metadata[k] = v
	}
	return cleanAndSplit([]schema.Document{{PageContent: res.Body, Metadata: metadata}}, opts)
}
