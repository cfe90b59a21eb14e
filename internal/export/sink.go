package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DirSink writes into a timestamped folder below Dir.
type DirSink struct {
	Dir string
}

func (d DirSink) Deliver(ctx context.Context, stamp string, artifacts []Artifact) (Result, error) {
	if strings.TrimSpace(d.Dir) == "" {
		return Result{}, ErrNoDirectory
	}
	folder := filepath.Join(d.Dir, FolderPrefix+stamp)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return Result{}, fmt.Errorf("create export folder: %w", err)
	}

	res := Result{Location: folder}
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := filepath.Join(folder, a.Name)
		if err := os.WriteFile(name, a.Data, 0o644); err != nil {
			return res, fmt.Errorf("write %s: %w", a.Name, err)
		}
		res.Files = append(res.Files, name)
	}
	return res, nil
}

// DownloadFunc hands one named file to the user.
type DownloadFunc func(ctx context.Context, name string, a Artifact) error

// DownloadSink delivers artifacts one after another as <stamp>_<name>.
type DownloadSink struct {
	Send DownloadFunc
}

func (d DownloadSink) Deliver(ctx context.Context, stamp string, artifacts []Artifact) (Result, error) {
	if d.Send == nil {
		return Result{}, fmt.Errorf("download sink has no sender")
	}
	var res Result
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := stamp + "_" + a.Name
		if err := d.Send(ctx, name, a); err != nil {
			return res, fmt.Errorf("send %s: %w", name, err)
		}
		res.Files = append(res.Files, name)
	}
	return res, nil
}

// ObjectPutter is the slice of the S3 API the sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads to <Prefix>/banana-mall-export-<stamp>/<name>.
type S3Sink struct {
	Client ObjectPutter
	Bucket string
	Prefix string
}

func (s S3Sink) Deliver(ctx context.Context, stamp string, artifacts []Artifact) (Result, error) {
	if s.Client == nil || s.Bucket == "" {
		return Result{}, fmt.Errorf("s3 sink is not configured")
	}
	folder := path.Join(strings.Trim(s.Prefix, "/"), FolderPrefix+stamp)
	res := Result{Location: "s3://" + s.Bucket + "/" + folder}
	for _, a := range artifacts {
		key := path.Join(folder, a.Name)
		_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(a.Data),
			ContentType: aws.String(a.ContentType),
		})
		if err != nil {
			return res, fmt.Errorf("upload %s: %w", key, err)
		}
		res.Files = append(res.Files, key)
	}
	return res, nil
}

// MultiSink delivers to every sink in turn and reports the first one's
// location.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, stamp string, artifacts []Artifact) (Result, error) {
	var first Result
	for i, sink := range m {
		res, err := sink.Deliver(ctx, stamp, artifacts)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = res
		}
	}
	return first, nil
}

// NewS3Sink builds an S3Sink from the default AWS credential chain.
func NewS3Sink(ctx context.Context, region, bucket, prefix string) (S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return S3Sink{}, fmt.Errorf("load aws config: %w", err)
	}
	return S3Sink{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: prefix}, nil
}
