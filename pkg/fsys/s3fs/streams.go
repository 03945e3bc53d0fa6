package s3fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// rangeReader is a seekable view of an object. The body of the current
// GetObject is dropped on Seek and reopened lazily at the new offset.
// It keeps the context it was opened with, since io interfaces carry none.
type rangeReader struct {
	ctx    context.Context
	api    API
	bucket string
	key    string
	size   int64
	off    int64
	body   io.ReadCloser
	closed bool
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	if r.off >= r.size {
		return 0, io.EOF
	}
	if r.body == nil {
		body, err := r.get(fmt.Sprintf("bytes=%d-", r.off))
		if err != nil {
			return 0, err
		}
		r.body = body
	}
	n, err := r.body.Read(p)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && r.off < r.size {
		// Body ended early; reopen on next Read.
		r.body.Close()
		r.body = nil
		err = nil
	}
	return n, err
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("seek s3://%s/%s: invalid whence %d", r.bucket, r.key, whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek s3://%s/%s: negative position %d", r.bucket, r.key, abs)
	}
	if abs != r.off && r.body != nil {
		r.body.Close()
		r.body = nil
	}
	r.off = abs
	return abs, nil
}

func (r *rangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	body, err := r.get(fmt.Sprintf("bytes=%d-%d", off, end))
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:end-off+1])
	if err != nil {
		return n, fmt.Errorf("read s3://%s/%s at offset %d: %w", r.bucket, r.key, off, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *rangeReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.body != nil {
		err := r.body.Close()
		r.body = nil
		return err
	}
	return nil
}

func (r *rangeReader) get(rng string) (io.ReadCloser, error) {
	resp, err := r.api.GetObject(r.ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s (%s): %w", r.bucket, r.key, rng, err)
	}
	return resp.Body, nil
}

var errAborted = errors.New("upload aborted")

// pipeOutput streams writes into a background upload.
type pipeOutput struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func newPipeOutput(ctx context.Context, uploader *manager.Uploader, bucket, key string) *pipeOutput {
	pr, pw := io.Pipe()
	o := &pipeOutput{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			err = fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
		}
		pr.CloseWithError(err)
		o.done <- err
	}()
	return o
}

func (o *pipeOutput) Write(p []byte) (int, error) {
	return o.pw.Write(p)
}

// Close finishes the upload and returns its result.
func (o *pipeOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.pw.Close(); err != nil {
		return err
	}
	return <-o.done
}

// Abort fails the pipe so the upload stops before an object is created.
func (o *pipeOutput) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.pw.CloseWithError(errAborted)
	<-o.done
	return nil
}

// spoolOutput writes to a local temp file and uploads it on Close.
type spoolOutput struct {
	ctx    context.Context
	loader *Loader
	bucket string
	key    string
	file   *os.File
	closed bool
}

func newSpoolOutput(ctx context.Context, l *Loader, bucket, key string) (*spoolOutput, error) {
	f, err := os.CreateTemp(l.cfg.TempDir, "s3spool-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &spoolOutput{ctx: ctx, loader: l, bucket: bucket, key: key, file: f}, nil
}

func (o *spoolOutput) Write(p []byte) (int, error) {
	return o.file.Write(p)
}

// Abort drops the spool file without uploading it.
func (o *spoolOutput) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.file.Close()
	os.Remove(o.file.Name())
	return err
}

// Sync flushes the spool file. Nothing reaches S3 before Close.
func (o *spoolOutput) Sync() error {
	return o.file.Sync()
}

func (o *spoolOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	defer os.Remove(o.file.Name())
	defer o.file.Close()

	if _, err := o.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek spool file: %w", err)
	}
	_, err := o.loader.uploader.Upload(o.ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Body:   o.file,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", o.bucket, o.key, err)
	}
	return nil
}
