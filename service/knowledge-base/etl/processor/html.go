package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/schema"
)

type HTMLParser struct{}

var _ Parser = &HTMLParser{}

func (p *HTMLParser) CanProcess(ext string) bool {
	return ext == "html" || ext == "htm"
}

func (p *HTMLParser) Parse(_ context.Context, path string, opts Options) ([]schema.Document, error) {
	f, _, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing html: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	metadata := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}

	var blocks []string
	doc.Find("body").Find("h1, h2, h3, h4, h5, h6, p, li, pre, td, th, blockquote").Each(func(_ int, s *goquery.Selection) {
		// 嵌套块只取最外层
		if s.ParentsFiltered("p, li, pre, td, th, blockquote").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})

	text := strings.Join(blocks, "\n\n")
	if text == "" {
		text = strings.TrimSpace(doc.Find("body").Text())
	}

	return cleanAndSplit([]schema.Document{{PageContent: text, Metadata: metadata}}, opts)
}
