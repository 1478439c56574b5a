package etl

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/knowledge-base/etl/processor"

	"github.com/tmc/langchaingo/schema"
)

const (
	extZip = "zip"

	// 解压后的总大小上限
	maxArchiveBytes = 1 << 30
)

var (
	ErrNoChunks        = errors.New("no chunks produced from document")
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")
)

type LoadOptions struct {
	ChunkSize       int
	ChunkOverlap    int
	Separator       string
	PreProcessRules []model.PreProcessRule
	JQSchema        string
}

func LoadOptionsFromMessage(msg *model.ImportMessage) LoadOptions {
	return LoadOptions{
		ChunkSize:       msg.ChunkSize,
		ChunkOverlap:    msg.ChunkOverlap,
		Separator:       msg.Separator,
		PreProcessRules: msg.PreProcessRules,
		JQSchema:        msg.JQSchema,
	}
}

func (o LoadOptions) parserOptions() processor.Options {
	return processor.Options{
		ChunkSize:    o.ChunkSize,
		ChunkOverlap: o.ChunkOverlap,
		Separator:    o.Separator,
		JQSchema:     o.JQSchema,
		Clean:        BuildCleaner(o.PreProcessRules),
	}
}

// Loader 解析并切分本地文件，按扩展名选择解析器
type Loader struct {
	registry *processor.Registry
	logger   *slog.Logger
}

func NewLoader(registry *processor.Registry, logger *slog.Logger) *Loader {
	if registry == nil {
		registry = processor.NewDefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		registry: registry,
		logger:   logger.With("component", "loader"),
	}
}

// Load 压缩包会被解压到同目录下的临时目录，逐个解析后删除
func (l *Loader) Load(ctx context.Context, localPath string, opts LoadOptions) ([]schema.Document, error) {
	if fileExt(localPath) == extZip {
		return l.loadArchive(ctx, localPath, opts)
	}
	return l.loadFile(ctx, localPath, opts)
}

// SplitText 同步写入文本时使用
func (l *Loader) SplitText(text string, opts LoadOptions) ([]schema.Document, error) {
	return processor.SplitText(text, opts.parserOptions())
}

func (l *Loader) loadFile(ctx context.Context, localPath string, opts LoadOptions) ([]schema.Document, error) {
	ext := fileExt(localPath)
	parser := l.registry.Lookup(ext)

	docs, err := parser.Parse(ctx, localPath, opts.parserOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s file: %w", ext, err)
	}

	l.logger.Debug("file parsed",
		"path", localPath,
		"parser", fmt.Sprintf("%T", parser),
		"docs_num", len(docs))
	return docs, nil
}

func (l *Loader) loadArchive(ctx context.Context, localPath string, opts LoadOptions) ([]schema.Document, error) {
	dir, err := os.MkdirTemp(filepath.Dir(localPath), "archive-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create extract dir: %w", err)
	}
	defer os.RemoveAll(dir)

	members, err := extractZip(localPath, dir)
	if err != nil {
		return nil, err
	}
	l.logger.Info("archive extracted", "path", localPath, "members", members)

	var docs []schema.Document
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fileExt(member) == extZip {
			l.logger.Warn("skip nested archive", "member", member)
			continue
		}

		memberDocs, err := l.loadFile(ctx, filepath.Join(dir, member), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", member, err)
		}
		for i := range memberDocs {
			memberDocs[i].Metadata["file"] = member
		}
		docs = append(docs, memberDocs...)
	}
	return docs, nil
}

// extractZip 返回按压缩包内顺序排列的相对路径
func extractZip(archivePath, dir string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	root := filepath.Clean(dir) + string(os.PathSeparator)

	var (
		members []string
		total   int64
	)
	for _, f := range r.File {
		if f.FileInfo().IsDir() || skipMember(f.Name) {
			continue
		}

		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, root) {
			return nil, fmt.Errorf("illegal path in zip: %s", f.Name)
		}

		n, err := extractMember(f, target, maxArchiveBytes-total)
		if err != nil {
			return nil, err
		}
		total += n

		rel, _ := filepath.Rel(dir, target)
		members = append(members, filepath.ToSlash(rel))
	}
	return members, nil
}

func extractMember(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create dir: %w", err)
	}

	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open %s in zip: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, io.LimitReader(src, remaining+1))
	if err != nil {
		return 0, fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if n > remaining {
		return 0, ErrArchiveTooLarge
	}
	return n, nil
}

// skipMember 跳过 macOS 资源目录和隐藏文件
func skipMember(name string) bool {
	if strings.Contains(name, "__MACOSX") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

func fileExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
