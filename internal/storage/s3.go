package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 client. Zero values use the default AWS chain.
type Options struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Password encrypts uploads and decrypts encrypted downloads.
	Password string
}

// S3Client wraps AWS S3 client with encryption capabilities
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
	password   string
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucketName: opts.Bucket,
		password:   opts.Password,
	}, nil
}

// Bucket returns the publishing bucket.
func (s *S3Client) Bucket() string { return s.bucketName }

// Ping checks the publishing bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	if s.bucketName == "" {
		return fmt.Errorf("no bucket configured")
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}

// DownloadTo downloads bucket/key into dst, decrypting it when the object
// carries one of the known encryption envelopes.
func (s *S3Client) DownloadTo(ctx context.Context, bucket, key, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download from S3: %w", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return err
	}
	if !IsEncrypted(data) {
		log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", n).Msg("downloaded plain object from S3")
		return nil
	}
	if s.password == "" {
		return fmt.Errorf("object %s is encrypted but no password is configured", key)
	}

	plain, format, err := Decrypt(data, s.password)
	if err != nil {
		return fmt.Errorf("failed to decrypt data: %w", err)
	}
	if err := os.WriteFile(dst, plain, 0o600); err != nil {
		return err
	}
	log.Info().
		Str("key", key).
		Str("encryption_format", format).
		Int("size", len(plain)).
		Msg("downloaded and decrypted file from S3")
	return nil
}

// Upload publishes the file at path under key and returns its s3:// URL.
// Uploads are encrypted in the 3NCR0PTD format when a password is configured.
func (s *S3Client) Upload(ctx context.Context, key, path string) (string, error) {
	meta := map[string]string{
		"name":         filepath.Base(path),
		"content-type": "application/pdf",
	}

	var body io.Reader
	if s.password != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		enc, err := Encrypt(data, s.password)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Upload: encryption failed")
			return "", fmt.Errorf("failed to encrypt data: %w", err)
		}
		meta["encrypted"] = "true"
		meta["encryption-format"] = FormatCBC
		body = bytes.NewReader(enc)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		body = f
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/pdf"),
		Metadata:    meta,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Upload: upload failed")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().Str("key", key).Str("location", out.Location).Bool("encrypted", s.password != "").Msg("uploaded batch to S3")
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key), nil
}
