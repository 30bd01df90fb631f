package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"modsmith/internal/artifact"
)

// LinkTTL is how long an S3 link stays valid.
const LinkTTL = time.Hour

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Complete reports whether the config has everything NewS3Store needs.
func (c S3Config) Complete() bool {
	for _, v := range []string{c.Endpoint, c.AccessKey, c.SecretKey, c.Bucket} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// S3Store keeps every file of a run as the object <run id>/<path>.
type S3Store struct {
	client *minio.Client
	bucket string
	region string

	bucketOnce sync.Once
	bucketErr  error
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("s3 store: endpoint, access key, secret key and bucket are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}
	return &S3Store{client: client, bucket: strings.TrimSpace(cfg.Bucket), region: region}, nil
}

// ready creates the bucket on first use.
func (s *S3Store) ready(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil || exists {
			s.bucketErr = err
			return
		}
		s.bucketErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	if s.bucketErr != nil {
		return fmt.Errorf("s3 store: bucket %s: %w", s.bucket, s.bucketErr)
	}
	return nil
}

func (s *S3Store) Save(ctx context.Context, runID string, tree artifact.Tree) error {
	id, err := saveKey(runID, tree)
	if err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	return tree.Each(func(p string, content []byte) error {
		_, err := s.client.PutObject(ctx, s.bucket, id+"/"+p, bytes.NewReader(content), int64(len(content)),
			minio.PutObjectOptions{ContentType: contentType(p)})
		if err != nil {
			return fmt.Errorf("s3 store: put %s: %w", p, err)
		}
		return nil
	})
}

func (s *S3Store) Load(ctx context.Context, runID string) (artifact.Tree, error) {
	id, err := runKey(runID)
	if err != nil {
		return artifact.Tree{}, err
	}
	if err := s.ready(ctx); err != nil {
		return artifact.Tree{}, err
	}
	prefix := id + "/"
	files := map[string][]byte{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return artifact.Tree{}, fmt.Errorf("s3 store: list run %s: %w", id, info.Err)
		}
		raw, err := s.read(ctx, info.Key)
		if err != nil {
			return artifact.Tree{}, err
		}
		files[strings.TrimPrefix(info.Key, prefix)] = raw
	}
	if len(files) == 0 {
		return artifact.Tree{}, ErrNotFound
	}
	return artifact.NewTree(files)
}

func (s *S3Store) read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 store: get %s: %w", key, err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 store: read %s: %w", key, err)
	}
	return raw, nil
}

// Link returns a presigned download URL valid for LinkTTL.
func (s *S3Store) Link(ctx context.Context, runID, p string) (string, error) {
	id, clean, err := fileKey(runID, p)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, id+"/"+clean, LinkTTL, nil)
	if err != nil {
		return "", fmt.Errorf("s3 store: presign %s: %w", clean, err)
	}
	return u.String(), nil
}

// contentType picks the object content type from the file extension.
// Generated module files are text unless their extension says otherwise.
func contentType(p string) string {
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "text/plain; charset=utf-8"
}
