package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// fetch returns a local path for ref and whether that path is a temp copy.
func (s *Service) fetch(ctx context.Context, ref string) (string, bool, error) {
	// Strip optional #page fragment if present
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		p, err := s.downloadS3ToTemp(ctx, ref)
		return p, err == nil, err
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		p, err := s.downloadHTTPToTemp(ctx, ref)
		return p, err == nil, err
	case strings.HasPrefix(ref, "file://"):
		return strings.TrimPrefix(ref, "file://"), false, nil
	default:
		// treat as filesystem path
		return ref, false, nil
	}
}

func (s *Service) downloadHTTPToTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(s.WorkDir, "pdfdl-*"+remoteExt(url))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	log.Info().Str("url", url).Str("file", filepath.Base(f.Name())).Msg("downloaded http input to temp")
	return f.Name(), nil
}

func (s *Service) downloadS3ToTemp(ctx context.Context, s3url string) (string, error) {
	bucket, key, err := ParseS3URL(s3url)
	if err != nil {
		return "", err
	}
	if s.S3 == nil {
		return "", errors.New("s3 input given but no S3 client configured")
	}

	f, err := os.CreateTemp(s.WorkDir, "s3pdf-*"+remoteExt(key))
	if err != nil {
		return "", err
	}
	f.Close()
	if err := s.S3.DownloadTo(ctx, bucket, key, f.Name()); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(f.Name())).Msg("downloaded s3 input to temp")
	return f.Name(), nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(s3url string) (bucket, key string, err error) {
	path := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	return path[:slash], path[slash+1:], nil
}

// remoteExt keeps the remote extension so extension-based detection of
// office containers still works on the temp copy. PDF is assumed otherwise.
func remoteExt(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ext := strings.ToLower(filepath.Ext(ref))
	if ext == "" || len(ext) > 6 {
		return ".pdf"
	}
	return ext
}
