package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"knowledge-base-backend/config"
	"knowledge-base-backend/model"
	"knowledge-base-backend/utils"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
	"github.com/avast/retry-go/v4"
)

const (
	downloadAttempts = 3
	downloadDelay    = 500 * time.Millisecond

	schemeOSS = "oss"
)

var ErrUnsupportedLocator = errors.New("unsupported file locator")

// Locator 待导入文件的位置，URL 与 Object 二选一
type Locator struct {
	URL    string
	Object *model.OSSObject
}

func LocatorFromMessage(msg *model.ImportMessage) Locator {
	return Locator{URL: msg.FileURL, Object: msg.OSSObject}
}

// Downloader 把文件下载到本地目录，返回本地路径，由调用方负责删除
type Downloader interface {
	Download(ctx context.Context, loc Locator, dir string) (string, error)
}

// ossAPI 用到的 OSS 客户端方法
type ossAPI interface {
	GetObject(ctx context.Context, request *oss.GetObjectRequest, optFns ...func(*oss.Options)) (*oss.GetObjectResult, error)
	Presign(ctx context.Context, request any, optFns ...func(*oss.PresignOptions)) (*oss.PresignResult, error)
}

// Fetcher 支持 http(s) 链接、oss://bucket/key 链接和 OSS 对象描述
type Fetcher struct {
	httpClient *http.Client
	ossConfig  config.OSSConfig

	mu         sync.Mutex
	ossClients map[string]ossAPI

	logger *slog.Logger
}

func NewFetcher(ossConfig config.OSSConfig, httpClient *http.Client, logger *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = utils.DefaultHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		httpClient: httpClient,
		ossConfig:  ossConfig,
		ossClients: make(map[string]ossAPI),
		logger:     logger.With("component", "downloader"),
	}
}

func (f *Fetcher) Download(ctx context.Context, loc Locator, dir string) (string, error) {
	object, rawURL, err := f.resolve(loc)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	var name string
	if object != nil {
		name = path.Base(object.ObjectName)
	} else {
		name = fileNameFromURL(rawURL)
	}

	file, err := os.CreateTemp(dir, "*-"+sanitizeFileName(name))
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}
	localPath := file.Name()
	file.Close()

	write := func(body io.Reader) error {
		out, err := os.Create(localPath)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, body)
		return err
	}

	if object != nil {
		err = f.downloadObject(ctx, object, write)
	} else {
		err = f.downloadURL(ctx, rawURL, write)
	}
	if err != nil {
		os.Remove(localPath)
		return "", err
	}

	f.logger.Debug("file downloaded", "path", localPath)
	return localPath, nil
}

// resolve 把 oss:// 链接转换为对象描述
func (f *Fetcher) resolve(loc Locator) (*model.OSSObject, string, error) {
	if loc.Object != nil {
		object := *loc.Object
		if object.Bucket == "" {
			object.Bucket = f.ossConfig.BucketName
		}
		if object.ObjectName == "" || object.Bucket == "" {
			return nil, "", fmt.Errorf("%w: oss object requires bucket and object_name", ErrUnsupportedLocator)
		}
		return &object, "", nil
	}

	u, err := url.Parse(loc.URL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedLocator, err)
	}
	switch u.Scheme {
	case "http", "https":
		return nil, loc.URL, nil
	case schemeOSS:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedLocator, loc.URL)
		}
		return &model.OSSObject{Bucket: u.Host, ObjectName: key}, "", nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedLocator, loc.URL)
	}
}

func (f *Fetcher) downloadURL(ctx context.Context, rawURL string, write func(io.Reader) error) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := f.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("unexpected status code %d", resp.StatusCode)
				if resp.StatusCode < http.StatusInternalServerError {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return write(resp.Body)
		},
		retry.Context(ctx),
		retry.Attempts(downloadAttempts),
		retry.Delay(downloadDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("retrying to download file",
				"attempt", n+1,
				"url", rawURL,
				"err", err)
		}),
	)
}

func (f *Fetcher) downloadObject(ctx context.Context, object *model.OSSObject, write func(io.Reader) error) error {
	client := f.ossClient(object.Region)

	result, err := client.GetObject(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(object.Bucket),
		Key:    oss.Ptr(object.ObjectName),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from oss: %w", err)
	}
	defer result.Body.Close()

	if err := write(result.Body); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

// ossClient 按地域缓存客户端
func (f *Fetcher) ossClient(region string) ossAPI {
	if region == "" {
		region = f.ossConfig.Region
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.ossClients[region]; ok {
		return client
	}

	cfg := &oss.Config{
		Region: oss.Ptr(region),
		CredentialsProvider: credentials.NewStaticCredentialsProvider(
			f.ossConfig.AccessKeyID,
			f.ossConfig.AccessKeySecret,
		),
	}
	if f.ossConfig.Endpoint != "" && region == f.ossConfig.Region {
		cfg.Endpoint = oss.Ptr(f.ossConfig.Endpoint)
	}
	client := oss.NewClient(cfg)
	f.ossClients[region] = client
	return client
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	return path.Base(u.Path)
}

// sanitizeFileName 保留扩展名，去掉路径分隔符
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == '*' || r == '/' || r == 0 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
