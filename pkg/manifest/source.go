package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
)

// Source reads build artifacts. Names are slash-separated and relative to
// the project root, e.g. ".next/BUILD_ID" or "public/logo.png".
type Source interface {
	// ReadFile returns the contents of name. A missing file yields an error
	// matching fs.ErrNotExist.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// Open streams name. The reader also implements io.Seeker when the
	// backing store allows it.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns every file below dir, relative to dir, sorted. A
	// missing dir yields an empty list.
	List(ctx context.Context, dir string) ([]string, error)
}

// DirSource reads artifacts from an afero filesystem rooted at the
// project directory.
type DirSource struct {
	fs afero.Fs
}

// NewDirSource returns a Source over fsys.
func NewDirSource(fsys afero.Fs) *DirSource {
	return &DirSource{fs: fsys}
}

// NewOsSource returns a Source over the project directory dir.
func NewOsSource(dir string) *DirSource {
	return NewDirSource(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// Fs returns the underlying filesystem.
func (s *DirSource) Fs() afero.Fs { return s.fs }

// ReadFile implements Source.
func (s *DirSource) ReadFile(_ context.Context, name string) ([]byte, error) {
	return afero.ReadFile(s.fs, name)
}

// Open implements Source.
func (s *DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}

// List implements Source.
func (s *DirSource) List(_ context.Context, dir string) ([]string, error) {
	var files []string
	err := afero.Walk(s.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(filepathToSlash(p), strings.TrimSuffix(filepathToSlash(dir), "/")+"/")
		files = append(files, rel)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Source reads artifacts from an S3 bucket. The project root maps to
// prefix inside the bucket.
//
// Example usage:
//
//	cfg, _ := awsconfig.LoadDefaultConfig(ctx)
//	src := manifest.NewS3Source(s3.NewFromConfig(cfg), "my-builds", "site/123")
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source creates a Source over bucket/prefix.
func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Source) key(name string) string {
	name = strings.TrimPrefix(name, "/")
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// ReadFile implements Source.
func (s *S3Source) ReadFile(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Open implements Source.
func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, fmt.Errorf("s3 get %s/%s: %w", s.bucket, s.key(name), err)
	}
	return out.Body, nil
}

// List implements Source.
func (s *S3Source) List(ctx context.Context, dir string) ([]string, error) {
	prefix := strings.TrimSuffix(s.key(dir), "/") + "/"

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var files []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			files = append(files, strings.TrimPrefix(*obj.Key, prefix))
		}
	}
	sort.Strings(files)
	return files, nil
}
