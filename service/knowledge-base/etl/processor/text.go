package processor

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

type TextParser struct{}

var _ Parser = &TextParser{}

func (p *TextParser) CanProcess(ext string) bool {
	return ext == "txt" || ext == "text" || ext == "log"
}

func (p *TextParser) Parse(ctx context.Context, path string, opts Options) ([]schema.Document, error) {
	f, _, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading text: %w", err)
	}
	return cleanAndSplit(docs, opts)
}
