// Package source opens graph streams and images by location:
//
//	-                   standard input / standard output
//	path/to/file        local file
//	s3://bucket/key     S3 object (or S3-compatible store)
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/tickflow/iox"
)

// Kind is a location kind.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindFile  Kind = "file"
	KindS3    Kind = "s3"
)

// Location is a parsed source URI.
type Location struct {
	Kind   Kind
	Path   string
	Bucket string
	Key    string
}

func (l Location) String() string {
	switch l.Kind {
	case KindStdio:
		return "-"
	case KindS3:
		return "s3://" + l.Bucket + "/" + l.Key
	default:
		return l.Path
	}
}

// Parse parses a location. The empty string is rejected.
func Parse(uri string) (Location, error) {
	switch {
	case uri == "":
		return Location{}, errors.New("empty source location")
	case uri == "-":
		return Location{Kind: KindStdio}, nil
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, fmt.Errorf("invalid S3 location %q (want s3://bucket/key)", uri)
		}
		return Location{Kind: KindS3, Bucket: bucket, Key: key}, nil
	default:
		return Location{Kind: KindFile, Path: uri}, nil
	}
}

// S3Config holds configuration for S3 access.
type S3Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client creates an S3 client.
// Uses AWS SDK default credential chain (env vars, shared config, IAM role).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// Opener opens locations.
type Opener struct {
	// S3 configures the client built on first S3 access.
	S3 S3Config
	// Client overrides the S3 client (tests, shared clients).
	Client S3API
	// Stdin and Stdout back the "-" location. Nil means os.Stdin / os.Stdout.
	Stdin  io.Reader
	Stdout io.Writer
}

func (o *Opener) s3Client(ctx context.Context) (S3API, error) {
	if o.Client != nil {
		return o.Client, nil
	}
	client, err := NewS3Client(ctx, o.S3)
	if err != nil {
		return nil, err
	}
	o.Client = client
	return client, nil
}

// Open opens uri for reading.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	switch loc.Kind {
	case KindStdio:
		in := o.Stdin
		if in == nil {
			in = os.Stdin
		}
		return io.NopCloser(in), nil
	case KindS3:
		client, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", loc, err)
		}
		return out.Body, nil
	default:
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open graph source: %w", err)
		}
		return f, nil
	}
}

// Create opens uri for writing. S3 objects are buffered and uploaded on Close.
func (o *Opener) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	switch loc.Kind {
	case KindStdio:
		out := o.Stdout
		if out == nil {
			out = os.Stdout
		}
		return iox.NopWriteCloser(out), nil
	case KindS3:
		client, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return &s3Writer{ctx: ctx, client: client, loc: loc}, nil
	default:
		f, err := os.Create(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		return f, nil
	}
}

type s3Writer struct {
	ctx    context.Context
	client S3API
	loc    Location
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed S3 object")
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.loc.Bucket),
		Key:         aws.String(w.loc.Key),
		Body:        bytes.NewReader(w.buf.Bytes()),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", w.loc, err)
	}
	return nil
}
