package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ensure interface is implemented
var _ FileAccessor = (*S3Accessor)(nil)

// s3API is the subset of *s3.Client used by S3Accessor.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Uploader is the subset of *manager.Uploader used by S3Accessor.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3Handle struct {
	name  string
	key   string
	write bool

	// read side
	pos  int64
	size int64

	// write side
	spool *os.File
}

// S3Accessor is a FileAccessor that drains into an S3 bucket. Objects cannot
// be written at arbitrary offsets, so every write handle is backed by a local
// spool file that is uploaded when CloseAll is called. Reads are served with
// ranged GetObject requests.
type S3Accessor struct {
	ctx      context.Context
	client   s3API
	uploader s3Uploader
	bucket   string
	prefix   string
	spoolDir string

	handles map[handleKey]Handle
	open    map[Handle]*s3Handle
	next    Handle
}

// NewS3Accessor creates an S3Accessor using the default AWS configuration
// chain. Requests carry the values of ctx but not its cancellation: a drain
// interrupted by a signal still uploads what it spooled in CloseAll.
func NewS3Accessor(ctx context.Context, bucket, prefix string) (*S3Accessor, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return newS3Accessor(ctx, client, manager.NewUploader(client), bucket, prefix), nil
}

func newS3Accessor(ctx context.Context, client s3API, uploader s3Uploader, bucket, prefix string) *S3Accessor {
	return &S3Accessor{
		ctx:      context.WithoutCancel(ctx),
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		handles:  make(map[handleKey]Handle),
		open:     make(map[Handle]*s3Handle),
	}
}

// WithSpoolDir sets the directory used for write spool files. The default is
// os.TempDir.
func (a *S3Accessor) WithSpoolDir(dir string) *S3Accessor {
	a.spoolDir = dir
	return a
}

// buildKey constructs the full S3 key based on the accessor's prefix
func (a *S3Accessor) buildKey(subPath string) string {
	subPath = strings.TrimPrefix(subPath, "/")
	if a.prefix == "" {
		return subPath
	}
	// Avoid double slashes
	key := path.Join(a.prefix, subPath)
	return strings.TrimPrefix(key, "/")
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (a *S3Accessor) Open(name string, mode Mode) (Handle, error) {
	key := handleKey{name: name, write: mode != ModeRead}
	if h, ok := a.handles[key]; ok {
		return h, nil
	}

	sh := &s3Handle{name: name, key: a.buildKey(name), write: key.write}
	var err error
	switch mode {
	case ModeRead:
		err = a.openRead(sh)
	case ModeWrite, ModeAppend:
		err = a.openWrite(sh, mode == ModeAppend)
	default:
		err = fmt.Errorf("unknown mode %d", mode)
	}
	if err != nil {
		return InvalidHandle, fmt.Errorf("failed to open s3://%s/%s for %s: %w", a.bucket, sh.key, mode, err)
	}

	h := a.next
	a.next++
	a.handles[key] = h
	a.open[h] = sh
	return h, nil
}

func (a *S3Accessor) openRead(sh *s3Handle) error {
	out, err := a.client.HeadObject(a.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(sh.key),
	})
	if err != nil {
		return err
	}
	if out.ContentLength != nil {
		sh.size = *out.ContentLength
	}
	return nil
}

func (a *S3Accessor) openWrite(sh *s3Handle, appendMode bool) error {
	spool, err := os.CreateTemp(a.spoolDir, "bbdrain-spool-*")
	if err != nil {
		return err
	}
	sh.spool = spool

	if !appendMode {
		return nil
	}

	out, err := a.client.GetObject(a.ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(sh.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		discardSpool(spool)
		return err
	}
	defer out.Body.Close()

	if _, err := io.Copy(spool, out.Body); err != nil {
		discardSpool(spool)
		return fmt.Errorf("failed to fetch existing object: %w", err)
	}
	return nil
}

func discardSpool(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

func (a *S3Accessor) handle(h Handle, name string) (*s3Handle, error) {
	sh, ok := a.open[h]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrBadHandle)
	}
	return sh, nil
}

// Read fetches len(p) bytes starting at the handle's cursor with a ranged
// GetObject. Fewer bytes are only returned together with an error.
func (a *S3Accessor) Read(h Handle, p []byte, name string) (int, error) {
	sh, err := a.handle(h, name)
	if err != nil {
		return 0, err
	}
	if sh.write {
		return 0, fmt.Errorf("failed to read %s: handle is write-only", name)
	}
	if len(p) == 0 {
		return 0, nil
	}

	want := int64(len(p))
	if remaining := sh.size - sh.pos; remaining < want {
		want = remaining
	}
	if want <= 0 {
		return 0, fmt.Errorf("failed to read %d bytes from %s: %w", len(p), name, io.ErrUnexpectedEOF)
	}

	out, err := a.client.GetObject(a.ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(sh.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", sh.pos, sh.pos+want-1)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:want])
	sh.pos += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to read %d bytes from %s: %w", len(p), name, err)
	}
	if want < int64(len(p)) {
		return n, fmt.Errorf("failed to read %d bytes from %s: %w", len(p), name, io.ErrUnexpectedEOF)
	}
	return n, nil
}

func (a *S3Accessor) Write(h Handle, p []byte, name string) (int, error) {
	sh, err := a.handle(h, name)
	if err != nil {
		return 0, err
	}
	if !sh.write {
		return 0, fmt.Errorf("failed to write %s: handle is read-only", name)
	}
	n, err := sh.spool.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to spool %d bytes for %s: %w", len(p), name, err)
	}
	return n, nil
}

func (a *S3Accessor) Seek(h Handle, offset int64, whence int, name string) (int64, error) {
	sh, err := a.handle(h, name)
	if err != nil {
		return 0, err
	}
	if sh.write {
		pos, err := sh.spool.Seek(offset, whence)
		if err != nil {
			return pos, fmt.Errorf("failed to seek %s to %d: %w", name, offset, err)
		}
		return pos, nil
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = sh.pos + offset
	case io.SeekEnd:
		pos = sh.size + offset
	default:
		return sh.pos, fmt.Errorf("failed to seek %s: %w", name, ErrUnsupportedSeek)
	}
	if pos < 0 {
		return sh.pos, fmt.Errorf("failed to seek %s to %d: negative position", name, pos)
	}
	sh.pos = pos
	return pos, nil
}

// CloseAll uploads every spooled write handle and releases all handles. All
// uploads are attempted; their errors are joined.
func (a *S3Accessor) CloseAll() error {
	var errs []error
	for h, sh := range a.open {
		delete(a.open, h)
		if !sh.write {
			continue
		}
		if err := a.upload(sh); err != nil {
			errs = append(errs, err)
		}
	}
	clear(a.handles)
	return errors.Join(errs...)
}

func (a *S3Accessor) upload(sh *s3Handle) error {
	defer discardSpool(sh.spool)

	if _, err := sh.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spool for %s: %w", sh.name, err)
	}
	_, err := a.uploader.Upload(a.ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(sh.key),
		Body:   sh.spool,
	})
	if err != nil {
		return fmt.Errorf("s3 upload of %s failed: %w", sh.key, err)
	}
	return nil
}
