package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"knowledge-base-backend/config"
	"knowledge-base-backend/model"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOSS struct {
	objects map[string]string
	calls   []string
	presign []string
}

func (f *fakeOSS) Presign(_ context.Context, request any, _ ...func(*oss.PresignOptions)) (*oss.PresignResult, error) {
	put, ok := request.(*oss.PutObjectRequest)
	if !ok {
		return nil, assert.AnError
	}
	key := *put.Bucket + "/" + *put.Key
	f.presign = append(f.presign, key)
	return &oss.PresignResult{
		Method:     "PUT",
		URL:        "https://oss.example.com/" + key + "?signature=x",
		Expiration: time.Unix(1700000000, 0),
	}, nil
}

func (f *fakeOSS) GetObject(_ context.Context, request *oss.GetObjectRequest, _ ...func(*oss.Options)) (*oss.GetObjectResult, error) {
	key := *request.Bucket + "/" + *request.Key
	f.calls = append(f.calls, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, assert.AnError
	}
	return &oss.GetObjectResult{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestFetcher_DownloadHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello knowledge base"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(config.OSSConfig{}, srv.Client(), nil)

	local, err := f.Download(context.Background(), Locator{URL: srv.URL + "/files/report.md?token=x"}, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(local))
	assert.True(t, strings.HasSuffix(local, "-report.md"))

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "hello knowledge base", string(data))
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(config.OSSConfig{}, srv.Client(), nil)
	_, err := f.Download(context.Background(), Locator{URL: srv.URL + "/a.txt"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcher_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(config.OSSConfig{}, srv.Client(), nil)
	_, err := f.Download(context.Background(), Locator{URL: srv.URL + "/missing.txt"}, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())

	// 失败时不留下临时文件
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetcher_DownloadOSS(t *testing.T) {
	getter := &fakeOSS{objects: map[string]string{
		"kb-bucket/docs/a.csv":   "a,b\n1,2\n",
		"default-bucket/b.json": `[{"x":1}]`,
	}}
	f := NewFetcher(config.OSSConfig{Region: "cn-hangzhou", BucketName: "default-bucket"}, nil, nil)
	f.ossClients["cn-hangzhou"] = getter

	dir := t.TempDir()
	local, err := f.Download(context.Background(), Locator{URL: "oss://kb-bucket/docs/a.csv"}, dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(local, "-a.csv"))

	local, err = f.Download(context.Background(), Locator{Object: &model.OSSObject{ObjectName: "b.json"}}, dir)
	require.NoError(t, err)
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, `[{"x":1}]`, string(data))

	assert.Equal(t, []string{"kb-bucket/docs/a.csv", "default-bucket/b.json"}, getter.calls)
}

func TestFetcher_UnsupportedLocator(t *testing.T) {
	f := NewFetcher(config.OSSConfig{}, nil, nil)
	for _, loc := range []Locator{
		{URL: "ftp://example.com/a.txt"},
		{URL: "oss://bucket-only"},
		{URL: ""},
	} {
		_, err := f.Download(context.Background(), loc, t.TempDir())
		assert.ErrorIs(t, err, ErrUnsupportedLocator, loc.URL)
	}
}

func TestFetcher_PresignUpload(t *testing.T) {
	fake := &fakeOSS{}
	f := NewFetcher(config.OSSConfig{Region: "cn-hangzhou", BucketName: "kb"}, nil, nil)
	f.ossClients["cn-hangzhou"] = fake

	objectName := UploadObjectName("team-1", "faq", "../guide.pdf")
	assert.Equal(t, "team-1/faq/guide.pdf", objectName)

	upload, err := f.PresignUpload(context.Background(), objectName, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "PUT", upload.Method)
	assert.Equal(t, "kb", upload.Bucket)
	assert.Equal(t, objectName, upload.ObjectName)
	assert.Contains(t, upload.URL, "kb/team-1/faq/guide.pdf")
	assert.Equal(t, []string{"kb/team-1/faq/guide.pdf"}, fake.presign)

	noBucket := NewFetcher(config.OSSConfig{}, nil, nil)
	_, err = noBucket.PresignUpload(context.Background(), objectName, time.Minute)
	assert.ErrorIs(t, err, ErrBucketNotConfigured)
}
