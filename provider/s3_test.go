package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
	gets    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.gets = append(f.gets, aws.ToString(in.Range))
	if in.Range != nil {
		var start, end int
		if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &manager.UploadOutput{}, nil
}

func newTestS3Accessor(t *testing.T, fake *fakeS3, prefix string) *S3Accessor {
	t.Helper()
	return newS3Accessor(context.Background(), fake, fake, "bucket", prefix).WithSpoolDir(t.TempDir())
}

func TestS3Accessor_BuildKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		expect string
	}{
		{"", "test.txt", "test.txt"},
		{"", "/test.txt", "test.txt"},
		{"myprefix", "test.txt", "myprefix/test.txt"},
		{"myprefix/", "test.txt", "myprefix/test.txt"},
		{"myprefix", "/test.txt", "myprefix/test.txt"},
		{"my/deep/prefix/", "/some/path.txt", "my/deep/prefix/some/path.txt"},
		{"", "", ""},
		{"myprefix", "", "myprefix"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"+"+tt.path, func(t *testing.T) {
			a := &S3Accessor{prefix: tt.prefix}
			actual := a.buildKey(tt.path)
			if actual != tt.expect {
				t.Errorf("buildKey(%q, %q) = %q; want %q", tt.prefix, tt.path, actual, tt.expect)
			}
		})
	}
}

func TestS3Accessor_WriteAtUploadsOnCloseAll(t *testing.T) {
	fake := newFakeS3()
	a := newTestS3Accessor(t, fake, "drain")

	h, err := a.Open("out.bin", ModeWrite)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := a.Seek(h, 4, io.SeekStart, "out.bin"); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := a.Write(h, []byte("data"), "out.bin"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, ok := fake.objects["drain/out.bin"]; ok {
		t.Fatal("object uploaded before CloseAll")
	}
	if err := a.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}

	got := fake.objects["drain/out.bin"]
	want := append(make([]byte, 4), []byte("data")...)
	if !bytes.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// cancelAwareUploader refuses to upload once its request context is done,
// like the real uploader does.
type cancelAwareUploader struct {
	next s3Uploader
}

func (u cancelAwareUploader) Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return u.next.Upload(ctx, in, opts...)
}

func TestS3Accessor_UploadsAfterCancel(t *testing.T) {
	fake := newFakeS3()
	ctx, cancel := context.WithCancel(context.Background())
	a := newS3Accessor(ctx, fake, cancelAwareUploader{next: fake}, "bucket", "").WithSpoolDir(t.TempDir())

	h, err := a.Open("f", ModeWrite)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := a.Write(h, []byte("spooled"), "f"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	cancel()
	if err := a.CloseAll(); err != nil {
		t.Fatalf("CloseAll after cancel failed: %v", err)
	}
	if got := string(fake.objects["f"]); got != "spooled" {
		t.Errorf("expected spooled object to be uploaded, got %q", got)
	}
}

func TestS3Accessor_AppendFetchesExisting(t *testing.T) {
	fake := newFakeS3()
	fake.objects["log"] = []byte("head-")
	a := newTestS3Accessor(t, fake, "")

	h, err := a.Open("log", ModeAppend)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := a.Seek(h, 0, io.SeekEnd, "log"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Write(h, []byte("tail"), "log"); err != nil {
		t.Fatal(err)
	}
	if err := a.CloseAll(); err != nil {
		t.Fatal(err)
	}

	if got := string(fake.objects["log"]); got != "head-tail" {
		t.Errorf("expected %q, got %q", "head-tail", got)
	}
}

func TestS3Accessor_RangedReads(t *testing.T) {
	fake := newFakeS3()
	fake.objects["src"] = []byte("0123456789")
	a := newTestS3Accessor(t, fake, "")

	h, err := a.Open("src", ModeRead)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := a.Seek(h, 2, io.SeekStart, "src"); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	n, err := a.Read(h, buf, "src")
	if err != nil || n != 4 || string(buf) != "2345" {
		t.Fatalf("Read = %d %q %v", n, buf[:n], err)
	}

	buf = make([]byte, 8)
	n, err = a.Read(h, buf, "src")
	if n != 4 || string(buf[:n]) != "6789" {
		t.Errorf("expected short read of 6789, got %d %q", n, buf[:n])
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}

	wantRanges := []string{"bytes=2-5", "bytes=6-9"}
	if len(fake.gets) != len(wantRanges) {
		t.Fatalf("expected %d gets, got %v", len(wantRanges), fake.gets)
	}
	for i, r := range wantRanges {
		if fake.gets[i] != r {
			t.Errorf("get %d: expected %s, got %s", i, r, fake.gets[i])
		}
	}
}

func TestS3Accessor_OpenMissingForRead(t *testing.T) {
	a := newTestS3Accessor(t, newFakeS3(), "")

	h, err := a.Open("missing", ModeRead)
	if err == nil {
		t.Fatal("expected error")
	}
	if h != InvalidHandle {
		t.Errorf("expected InvalidHandle, got %d", h)
	}
}
