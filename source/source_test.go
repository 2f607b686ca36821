package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 is an in-memory object store.
type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{"-", Location{Kind: KindStdio}, false},
		{"graphs/blink.tfi", Location{Kind: KindFile, Path: "graphs/blink.tfi"}, false},
		{"s3://fleet/graphs/blink.tfi", Location{Kind: KindS3, Bucket: "fleet", Key: "graphs/blink.tfi"}, false},
		{"s3://fleet", Location{}, true},
		{"s3:///key", Location{}, true},
		{"", Location{}, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if !tt.wantErr && got.String() != tt.in {
			t.Errorf("Parse(%q).String() = %q", tt.in, got.String())
		}
	}
}

func TestOpener_S3RoundTrip(t *testing.T) {
	ctx := context.Background()
	o := &Opener{Client: newFakeS3()}

	w, err := o.Create(ctx, "s3://fleet/blink.tfi")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := w.Write([]byte("uC/Flo")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := o.Open(ctx, "s3://fleet/blink.tfi")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "uC/Flo" {
		t.Errorf("object = %q, want %q", data, "uC/Flo")
	}

	if _, err := o.Open(ctx, "s3://fleet/missing"); err == nil {
		t.Error("Open(missing) error = nil")
	}
}

func TestOpener_S3PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("AccessDenied")
	o := &Opener{Client: fake}

	w, err := o.Create(context.Background(), "s3://fleet/x")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.Close(); !errors.Is(err, fake.putErr) {
		t.Errorf("Close() error = %v, want %v", err, fake.putErr)
	}
}

func TestOpener_FileAndStdio(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "g.bin")
	var stdout bytes.Buffer
	o := &Opener{Stdin: strings.NewReader("from stdin"), Stdout: &stdout}

	w, err := o.Create(ctx, path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := w.Write([]byte("on disk")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "on disk" {
		t.Errorf("file = %q, want %q", data, "on disk")
	}

	r, err := o.Open(ctx, "-")
	if err != nil {
		t.Fatalf("Open(-) error = %v", err)
	}
	if data, _ := io.ReadAll(r); string(data) != "from stdin" {
		t.Errorf("stdin = %q", data)
	}

	w, err = o.Create(ctx, "-")
	if err != nil {
		t.Fatalf("Create(-) error = %v", err)
	}
	_, _ = w.Write([]byte("to stdout"))
	_ = w.Close()
	if stdout.String() != "to stdout" {
		t.Errorf("stdout = %q", stdout.String())
	}

	if _, err := o.Open(ctx, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Open(missing) error = nil")
	}
}
