package processor

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// PDFParser 按页加载，元数据带页码
type PDFParser struct{}

var _ Parser = &PDFParser{}

func (p *PDFParser) CanProcess(ext string) bool {
	return ext == "pdf"
}

func (p *PDFParser) Parse(ctx context.Context, path string, opts Options) ([]schema.Document, error) {
	f, size, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewPDF(f, size).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading pdf: %w", err)
	}
	return cleanAndSplit(docs, opts)
}
