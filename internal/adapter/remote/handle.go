// Package remote opens granules over S3, HTTPS or the local filesystem and
// talks to the Earthdata catalog and credential services.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"go.ngs.io/disp-cog/internal/adapter/store"
)

// DefaultRegion is where Earthdata Cloud buckets live.
const DefaultRegion = "us-west-2"

// Options configures Open.
type Options struct {
	// Credentials are required for s3:// URIs unless the AWS environment
	// provides them.
	Credentials *Credentials
	Region      string
	// S3Endpoint overrides the S3 endpoint (path-style), mainly for tests.
	S3Endpoint string
	// Token is sent as a bearer token on HTTPS requests.
	Token      string
	HTTPClient *http.Client
	// TempDir holds staged copies for path-only decoders.
	TempDir string
}

type rangeReader interface {
	readRange(ctx context.Context, p []byte, off int64) (int, error)
}

// Handle is a random-access view of a granule. It implements store.Source.
type Handle struct {
	ctx     context.Context
	uri     string
	size    int64
	rr      rangeReader
	local   *store.File
	tempDir string

	mu     sync.Mutex
	staged string
}

var _ store.Source = (*Handle)(nil)

// Open resolves uri to a handle. ctx bounds every read made through it.
func Open(ctx context.Context, uri string, opts Options) (*Handle, error) {
	uri = strings.TrimSpace(uri)
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", uri, err)
	}
	h := &Handle{ctx: ctx, uri: uri, tempDir: opts.TempDir}
	switch u.Scheme {
	case "s3":
		sr, size, err := openS3(ctx, u, opts)
		if err != nil {
			return nil, err
		}
		h.rr, h.size = sr, size
	case "http", "https":
		hr, size, err := openHTTP(ctx, uri, opts)
		if err != nil {
			return nil, err
		}
		h.rr, h.size = hr, size
	case "", "file":
		p := uri
		if u.Scheme == "file" {
			p = u.Path
		}
		f, err := store.OpenFile(p)
		if err != nil {
			return nil, err
		}
		h.local, h.size = f, f.Size()
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, uri)
	}
	return h, nil
}

// ReadAt implements io.ReaderAt.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h.local != nil {
		return h.local.ReadAt(p, off)
	}
	if off >= h.size {
		return 0, io.EOF
	}
	want := len(p)
	if rem := h.size - off; int64(want) > rem {
		want = int(rem)
	}
	n, err := h.rr.readRange(h.ctx, p[:want], off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Size returns the object length.
func (h *Handle) Size() int64 { return h.size }

// URI returns the URI the handle was opened with.
func (h *Handle) URI() string { return h.uri }

// LocalPath returns a filesystem path with the object's bytes, downloading
// remote objects once.
func (h *Handle) LocalPath(ctx context.Context) (string, error) {
	if h.local != nil {
		return h.local.URI(), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.staged != "" {
		return h.staged, nil
	}
	f, err := os.CreateTemp(h.tempDir, "granule-*"+path.Ext(h.uri))
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	src := io.NewSectionReader(readerAtFunc(func(p []byte, off int64) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return h.ReadAt(p, off)
	}), 0, h.size)
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage %s: %w", h.uri, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage %s: %w", h.uri, err)
	}
	h.staged = f.Name()
	return h.staged, nil
}

// Close releases the handle and removes any staged copy.
func (h *Handle) Close() error {
	var errs []error
	if h.local != nil {
		errs = append(errs, h.local.Close())
	}
	h.mu.Lock()
	if h.staged != "" {
		errs = append(errs, os.Remove(h.staged))
		h.staged = ""
	}
	h.mu.Unlock()
	return errors.Join(errs...)
}

type readerAtFunc func(p []byte, off int64) (int, error)

func (f readerAtFunc) ReadAt(p []byte, off int64) (int, error) { return f(p, off) }

type s3Reader struct {
	client *s3.S3
	bucket string
	key    string
}

func openS3(ctx context.Context, u *url.URL, opts Options) (*s3Reader, int64, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}
	cfg := &aws.Config{Region: aws.String(region)}
	if c := opts.Credentials; c != nil {
		cfg.Credentials = credentials.NewStaticCredentials(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	}
	if opts.S3Endpoint != "" {
		cfg.Endpoint = aws.String(opts.S3Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create AWS session: %w", err)
	}
	r := &s3Reader{
		client: s3.New(sess),
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}
	head, err := r.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat s3://%s/%s: %w", r.bucket, r.key, err)
	}
	return r, aws.Int64Value(head.ContentLength), nil
}

func (r *s3Reader) readRange(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(byteRange(off, len(p))),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read s3://%s/%s at %d: %w", r.bucket, r.key, off, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadFull(out.Body, p)
}

func byteRange(off int64, n int) string {
	return "bytes=" + strconv.FormatInt(off, 10) + "-" + strconv.FormatInt(off+int64(n)-1, 10)
}

type httpReader struct {
	client *http.Client
	url    string
	token  string
}

func openHTTP(ctx context.Context, uri string, opts Options) (*httpReader, int64, error) {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	r := &httpReader{client: client, url: uri, token: opts.Token}

	// A one-byte range request reports the total size in Content-Range even
	// where HEAD is not allowed.
	resp, err := r.do(ctx, 0, 1)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to size %s: %w", uri, err)
		}
		return r, size, nil
	case http.StatusOK:
		if resp.ContentLength < 0 {
			return nil, 0, fmt.Errorf("server for %s supports neither ranges nor Content-Length", uri)
		}
		return r, resp.ContentLength, nil
	}
	return nil, 0, fmt.Errorf("failed to open %s: HTTP %d", uri, resp.StatusCode)
}

func (r *httpReader) do(ctx context.Context, off int64, n int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Range", byteRange(off, n))
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", r.url, err)
	}
	return resp, nil
}

func (r *httpReader) readRange(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	resp, err := r.do(ctx, off, len(p))
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusPartialContent:
		return io.ReadFull(resp.Body, p)
	case http.StatusOK:
		// Range ignored: skip to the offset.
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return 0, fmt.Errorf("failed to seek %s: %w", r.url, err)
		}
		return io.ReadFull(resp.Body, p)
	}
	return 0, fmt.Errorf("failed to read %s at %d: HTTP %d", r.url, off, resp.StatusCode)
}

// parseContentRange extracts the complete length from "bytes a-b/size".
func parseContentRange(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i == len(v)-1 || v[i+1:] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	return strconv.ParseInt(v[i+1:], 10, 64)
}
