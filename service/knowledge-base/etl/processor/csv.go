package processor

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// CSVParser 每行一个文档，内容为 "列名: 值" 逐行拼接
type CSVParser struct{}

var _ Parser = &CSVParser{}

func (p *CSVParser) CanProcess(ext string) bool {
	return ext == "csv"
}

func (p *CSVParser) Parse(ctx context.Context, path string, opts Options) ([]schema.Document, error) {
	f, _, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading csv: %w", err)
	}
	return cleanAndSplit(docs, opts)
}
