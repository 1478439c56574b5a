package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
)

const defaultPresignExpires = 15 * time.Minute

var ErrBucketNotConfigured = errors.New("oss bucket is not configured")

// UploadURL 前端直传文件至 OSS 的预签名链接
type UploadURL struct {
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Bucket        string            `json:"bucket"`
	ObjectName    string            `json:"objectName"`
	Expiration    time.Time         `json:"expiration"`
	SignedHeaders map[string]string `json:"signedHeaders,omitempty"`
}

// UploadObjectName 上传文件在默认 bucket 中的对象名：{teamID}/{collection}/{fileName}
func UploadObjectName(teamID, collection, fileName string) string {
	return path.Join(teamID, collection, sanitizeFileName(fileName))
}

// PresignUpload 生成默认 bucket 中对象的上传链接，上传完成后以 OSS 对象提交导入任务
func (f *Fetcher) PresignUpload(ctx context.Context, objectName string, expires time.Duration) (*UploadURL, error) {
	bucket := f.ossConfig.BucketName
	if bucket == "" {
		return nil, ErrBucketNotConfigured
	}
	objectName = strings.TrimPrefix(objectName, "/")
	if objectName == "" {
		return nil, fmt.Errorf("%w: empty object name", ErrUnsupportedLocator)
	}
	if expires <= 0 {
		expires = defaultPresignExpires
	}

	result, err := f.ossClient("").Presign(ctx, &oss.PutObjectRequest{
		Bucket: oss.Ptr(bucket),
		Key:    oss.Ptr(objectName),
	}, oss.PresignExpires(expires))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload url: %w", err)
	}

	return &UploadURL{
		URL:           result.URL,
		Method:        result.Method,
		Bucket:        bucket,
		ObjectName:    objectName,
		Expiration:    result.Expiration,
		SignedHeaders: result.SignedHeaders,
	}, nil
}
