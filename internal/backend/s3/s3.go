// Package s3 serves s3://<name>/<key> URLs from S3 compatible buckets.
// Directories are key prefixes ending in '/', optionally backed by an empty
// marker object so empty directories survive.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fop-go/internal/config"
	"fop-go/internal/fop"
)

// Scheme addresses objects in configured buckets.
const Scheme = "s3"

const defaultRegion = "us-east-1"

// objectAPI is the part of *s3.Client the backend uses.
type objectAPI interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// bucket is one configured name.
type bucket struct {
	name     string
	bucket   string
	client   objectAPI
	uploader *manager.Uploader
}

// Backend implements fop.Backend for every configured bucket. The URL
// host selects the bucket by its configured name.
type Backend struct {
	buckets map[string]*bucket
}

// New creates clients for cfgs.
func New(ctx context.Context, cfgs []config.S3Config) (*Backend, error) {
	b := &Backend{buckets: make(map[string]*bucket)}
	for _, c := range cfgs {
		if c.Name == "" || c.Bucket == "" {
			return nil, fmt.Errorf("s3 config needs a name and a bucket")
		}
		if _, dup := b.buckets[c.Name]; dup {
			return nil, fmt.Errorf("duplicate s3 name %q", c.Name)
		}
		client, err := newClient(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("s3 %s: %w", c.Name, err)
		}
		b.add(c.Name, c.Bucket, client)
	}
	return b, nil
}

func newClient(ctx context.Context, c config.S3Config) (*s3.Client, error) {
	region := c.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = c.UsePathStyle
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

func (b *Backend) add(name, bucketName string, client objectAPI) {
	b.buckets[name] = &bucket{
		name:     name,
		bucket:   bucketName,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (b *Backend) Scheme() string { return Scheme }

func (b *Backend) lookup(u fop.URL) (*bucket, string, error) {
	if u.Scheme != Scheme {
		return nil, "", fmt.Errorf("not an s3 URL: %s", u)
	}
	bk, ok := b.buckets[u.Host]
	if !ok {
		return nil, "", fmt.Errorf("no s3 bucket configured as %q", u.Host)
	}
	return bk, strings.TrimPrefix(u.Path, "/"), nil
}

// dirPrefix is the listing prefix of key, "" for the bucket root.
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func notExist(u fop.URL) error {
	return fmt.Errorf("%s: %w", u, fs.ErrNotExist)
}

func objectStat(name string, size int64, modTime time.Time) *fop.Stat {
	return &fop.Stat{Name: name, Size: size, Mode: 0o644, ModTime: modTime}
}

func dirStat(name string) *fop.Stat {
	return &fop.Stat{Name: name, Mode: fs.ModeDir | 0o755}
}

// Stat reports objects as files and non-empty prefixes as directories.
func (b *Backend) Stat(ctx context.Context, u fop.URL) (*fop.Stat, error) {
	bk, key, err := b.lookup(u)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return dirStat("/"), nil
	}
	out, err := bk.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bk.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return objectStat(u.Base(), aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified)), nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("head object %s: %w", key, err)
	}
	empty, err := bk.prefixEmpty(ctx, dirPrefix(key), false)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, notExist(u)
	}
	return dirStat(u.Base()), nil
}

// prefixEmpty reports whether nothing lives under prefix. The directory
// marker itself is ignored when ignoreMarker is set.
func (bk *bucket) prefixEmpty(ctx context.Context, prefix string, ignoreMarker bool) (bool, error) {
	out, err := bk.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bk.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return false, fmt.Errorf("list %s: %w", prefix, err)
	}
	for _, o := range out.Contents {
		if ignoreMarker && aws.ToString(o.Key) == prefix {
			continue
		}
		return false, nil
	}
	return len(out.CommonPrefixes) == 0, nil
}

func (b *Backend) OpenDir(ctx context.Context, u fop.URL) (fop.DirReader, error) {
	st, err := b.Stat(ctx, u)
	if err != nil {
		return nil, err
	}
	if st.Type() != fop.TypeDir {
		return nil, fmt.Errorf("%s: %w", u, syscall.ENOTDIR)
	}
	bk, key, err := b.lookup(u)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(key)
	return &dirReader{
		prefix: prefix,
		pages: s3.NewListObjectsV2Paginator(bk.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(bk.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		}),
	}, nil
}

// dirReader turns listing pages into entries.
type dirReader struct {
	prefix string
	pages  *s3.ListObjectsV2Paginator
	buf    []fop.DirEntry
}

func (r *dirReader) ReadEntries(ctx context.Context, n int) ([]fop.DirEntry, error) {
	for len(r.buf) < n && r.pages.HasMorePages() {
		page, err := r.pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", r.prefix, err)
		}
		for _, p := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), r.prefix), "/")
			if name != "" {
				r.buf = append(r.buf, fop.DirEntry{Name: name, Stat: dirStat(name)})
			}
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if key == r.prefix {
				continue
			}
			name := strings.TrimPrefix(key, r.prefix)
			r.buf = append(r.buf, fop.DirEntry{
				Name: name,
				Stat: objectStat(name, aws.ToInt64(o.Size), aws.ToTime(o.LastModified)),
			})
		}
	}
	if len(r.buf) == 0 {
		return nil, io.EOF
	}
	k := min(n, len(r.buf))
	out := r.buf[:k:k]
	r.buf = r.buf[k:]
	return out, nil
}

func (r *dirReader) Close() error { return nil }

func (b *Backend) Open(ctx context.Context, u fop.URL) (io.ReadCloser, error) {
	bk, key, err := b.lookup(u)
	if err != nil {
		return nil, err
	}
	out, err := bk.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bk.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, notExist(u)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

// Create streams the written bytes into an upload that completes on Close.
// Permissions are not kept.
func (b *Backend) Create(ctx context.Context, u fop.URL, perm fs.FileMode) (io.WriteCloser, error) {
	bk, key, err := b.lookup(u)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%s: %w", u, syscall.EISDIR)
	}
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := bk.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bk.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			err = fmt.Errorf("upload %s: %w", key, err)
		}
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type uploadWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *uploadWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *uploadWriter) Close() error {
	w.pw.Close()
	return <-w.done
}

// Mkdir writes the directory marker object.
func (b *Backend) Mkdir(ctx context.Context, u fop.URL, perm fs.FileMode) error {
	bk, key, err := b.lookup(u)
	if err != nil {
		return err
	}
	if _, err := b.Stat(ctx, u); err == nil {
		return fmt.Errorf("%s: %w", u, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_, err = bk.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bk.bucket),
		Key:    aws.String(dirPrefix(key)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("put directory marker %s: %w", key, err)
	}
	return nil
}

// Remove deletes an object, or the marker of an empty directory.
func (b *Backend) Remove(ctx context.Context, u fop.URL) error {
	bk, key, err := b.lookup(u)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("cannot remove the bucket root")
	}
	st, err := b.Stat(ctx, u)
	if err != nil {
		return err
	}
	if st.Type() == fop.TypeDir {
		empty, err := bk.prefixEmpty(ctx, dirPrefix(key), true)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%s: %w", u, syscall.ENOTEMPTY)
		}
		key = dirPrefix(key)
	}
	return bk.delete(ctx, key)
}

func (bk *bucket) delete(ctx context.Context, key string) error {
	_, err := bk.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bk.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// CopyFile copies an object server side within one configured name.
func (b *Backend) CopyFile(ctx context.Context, from, to fop.URL) error {
	src, srcKey, err := b.lookup(from)
	if err != nil {
		return err
	}
	dst, dstKey, err := b.lookup(to)
	if err != nil {
		return err
	}
	if src != dst {
		return fmt.Errorf("%w: copy between s3 names", fop.ErrNotSupported)
	}
	_, err = dst.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(src.bucket, srcKey)),
	})
	if isNotFound(err) {
		return notExist(from)
	}
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// copySource is the URL encoded bucket/key pair CopyObject expects.
func copySource(bucketName, key string) string {
	return (&url.URL{Path: bucketName + "/" + key}).EscapedPath()
}

// Rename copies then deletes a single object. Directories are left to the
// engine's copy and delete fallback.
func (b *Backend) Rename(ctx context.Context, from, to fop.URL) error {
	st, err := b.Stat(ctx, from)
	if err != nil {
		return err
	}
	if st.Type() == fop.TypeDir {
		return fmt.Errorf("%w: renaming s3 prefixes", fop.ErrNotSupported)
	}
	if err := b.CopyFile(ctx, from, to); err != nil {
		return err
	}
	bk, key, err := b.lookup(from)
	if err != nil {
		return err
	}
	return bk.delete(ctx, key)
}

var (
	_ fop.Backend       = (*Backend)(nil)
	_ fop.Renamer       = (*Backend)(nil)
	_ fop.BackendCopier = (*Backend)(nil)
)
