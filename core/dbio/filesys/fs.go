package filesys

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/flarco/g"
	"github.com/flarco/g/net"
	"github.com/gobwas/glob"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
)

// Type is the kind of file system
type Type string

const (
	TypeFileLocal  Type = "file"
	TypeFileS3     Type = "s3"
	TypeFileGoogle Type = "gs"
	TypeFileAzure  Type = "azure"
	TypeFileSftp   Type = "sftp"
	TypeFileFtp    Type = "ftp"
)

const azureHostSuffix = ".blob.core.windows.net"

func (t Type) String() string {
	return string(t)
}

var recursiveLimit = cast.ToInt(os.Getenv("SLINGCSV_RECURSIVE_LIMIT"))

// FileSysClient is a client to a file system such as local or s3.
// It opens files for random access, so split readers can seek
// to their byte range.
type FileSysClient interface {
	iop.FileOpener
	Init(ctx context.Context) (err error)
	Close() (err error)
	Client() *BaseFileSysClient
	Context() (context *g.Context)
	FsType() Type
	Prefix(suffix ...string) string
	GetPath(uri string) (path string, err error)
	Create(ctx context.Context, uri string) (writer io.WriteCloser, err error)
	List(ctx context.Context, uri string) (nodes FileNodes, err error)
	GetProp(key string, keys ...string) (val string)
	SetProp(key string, val string)
	Props() map[string]string
}

// NewFileSysClient create a file system client.
// props are provided as `"Prop1=Value1", "Prop2=Value2", ...`
func NewFileSysClient(fst Type, props ...string) (fsClient FileSysClient, err error) {
	return NewFileSysClientContext(context.Background(), fst, props...)
}

// NewFileSysClientContext create a file system client with context
func NewFileSysClientContext(ctx context.Context, fst Type, props ...string) (fsClient FileSysClient, err error) {
	concurrencyLimit := runtime.NumCPU()
	if os.Getenv("CONCURRENCY_LIMIT") != "" {
		concurrencyLimit = cast.ToInt(os.Getenv("CONCURRENCY_LIMIT"))
	}

	switch fst {
	case TypeFileLocal:
		fsClient = &LocalFileSysClient{}
	case TypeFileS3:
		fsClient = &S3FileSysClient{}
	case TypeFileGoogle:
		fsClient = &GoogleFileSysClient{}
	case TypeFileAzure:
		fsClient = &AzureFileSysClient{}
	case TypeFileSftp:
		fsClient = &SftpFileSysClient{}
	case TypeFileFtp:
		fsClient = &FtpFileSysClient{}
	default:
		err = g.Error("Unrecognized File System: %s", fst)
		return
	}

	fsClient.Client().fsType = fst
	fsClient.Client().context = g.NewContext(ctx)

	for k, v := range g.KVArrToMap(props...) {
		fsClient.SetProp(k, v)
	}

	if fsClient.GetProp("CONCURRENCY_LIMIT") != "" {
		concurrencyLimit = cast.ToInt(fsClient.GetProp("CONCURRENCY_LIMIT"))
	}

	err = fsClient.Init(ctx)
	if err != nil {
		return nil, g.Error(err, "Error initiating File Sys Client")
	}
	fsClient.Context().SetConcurrencyLimit(concurrencyLimit)

	g.Debug(`opened "%s" file system`, fst)

	return
}

// NewFileSysClientFromURL returns the proper fs client for the given path
// props are provided as `"Prop1=Value1", "Prop2=Value2", ...`
func NewFileSysClientFromURL(url string, props ...string) (fsClient FileSysClient, err error) {
	return NewFileSysClientFromURLContext(context.Background(), url, props...)
}

// NewFileSysClientFromURLContext returns the proper fs client for the given path with context
func NewFileSysClientFromURLContext(ctx context.Context, url string, props ...string) (fsClient FileSysClient, err error) {
	switch {
	case strings.HasPrefix(url, "s3://"):
		props = append(props, "URL="+url)
		return NewFileSysClientContext(ctx, TypeFileS3, props...)
	case strings.HasPrefix(url, "gs://"):
		props = append(props, "URL="+url)
		return NewFileSysClientContext(ctx, TypeFileGoogle, props...)
	case strings.HasPrefix(url, "sftp://"):
		props = append(props, "URL="+url)
		return NewFileSysClientContext(ctx, TypeFileSftp, props...)
	case strings.HasPrefix(url, "ftp://"), strings.HasPrefix(url, "ftps://"):
		props = append(props, "URL="+url)
		return NewFileSysClientContext(ctx, TypeFileFtp, props...)
	case strings.HasPrefix(url, "https://") && strings.Contains(url, azureHostSuffix):
		props = append(props, "URL="+url)
		return NewFileSysClientContext(ctx, TypeFileAzure, props...)
	case strings.HasPrefix(url, "file://"):
		return NewFileSysClientContext(ctx, TypeFileLocal, props...)
	case strings.Contains(url, "://"):
		err = g.Error("Unable to determine FileSysClient for " + url)
		return
	default:
		return NewFileSysClientContext(ctx, TypeFileLocal, props...)
	}
}

// NormalizeURI adds the client prefix to uri if missing
func NormalizeURI(fs FileSysClient, uri string) string {
	switch fs.FsType() {
	case TypeFileLocal:
		// to handle windows path style
		uri = strings.ReplaceAll(uri, `\`, `/`)
		return fs.Prefix("") + strings.TrimPrefix(uri, fs.Prefix())
	default:
		if strings.Contains(uri, "://") {
			return uri
		}
		return fs.Prefix("/") + strings.TrimLeft(uri, "/")
	}
}

// hasGlob returns true if the path contains a wildcard
func hasGlob(path string) bool {
	return strings.ContainsAny(path, "*?")
}

func makeGlob(path string) (*glob.Glob, error) {
	if !hasGlob(path) {
		return nil, nil
	}

	gc, err := glob.Compile(strings.TrimPrefix(path, "./"), '/')
	if err != nil {
		return nil, g.Error(err, "invalid pattern: %s", path)
	}
	return &gc, nil
}

// ParseURLType parses a URL into its type, host and path.
// The path is the raw text after the authority (user info included),
// without the leading slash. Azure paths start with the container.
func ParseURLType(uri string) (uType Type, host string, path string, err error) {
	if !strings.Contains(uri, "://") {
		return TypeFileLocal, "", uri, nil
	} else if strings.HasPrefix(uri, "file://") {
		return TypeFileLocal, "", strings.TrimPrefix(uri, "file://"), nil
	}

	u, err := net.NewURL(uri)
	if err != nil {
		return "", "", "", g.Error(err, "could not parse url: %s", uri)
	}

	scheme := strings.ToLower(u.U.Scheme)
	host = u.Hostname()
	_, rest, _ := strings.Cut(uri, "://")
	_, path, _ = strings.Cut(rest, "/")

	if scheme == "" || host == "" {
		return "", "", "", g.Error("Invalid URL: " + uri)
	}

	switch {
	case g.In(Type(scheme), TypeFileS3, TypeFileGoogle, TypeFileSftp, TypeFileFtp):
		return Type(scheme), host, path, nil
	case scheme == "ftps":
		return TypeFileFtp, host, path, nil
	case scheme == "https" && strings.HasSuffix(host, azureHostSuffix):
		return TypeFileAzure, host, path, nil
	}
	return "", host, path, g.Error("unrecognized url type: " + scheme)
}

// GetDeepestParent returns the longest prefix of path without wildcards,
// ending with "/"
func GetDeepestParent(path string) string {
	parts := strings.Split(path, "/")
	parentParts := []string{}
	for i, part := range parts {
		if hasGlob(part) {
			break
		} else if i == len(parts)-1 {
			break
		}
		parentParts = append(parentParts, part)
	}
	if len(parentParts) > 0 && len(parentParts) < len(parts) {
		parentParts = append(parentParts, "") // suffix is "/"
	}
	return strings.Join(parentParts, "/")
}

// filterPrefixed returns the node at path when it is an exact match,
// else the nodes inside the folder path. Object stores list by key prefix,
// so `data/a` also matches `data/ab.csv`.
func filterPrefixed(nodes FileNodes, path string) FileNodes {
	for _, n := range nodes {
		if n.Path() == path {
			return FileNodes{n}
		}
	}

	folder := strings.TrimSuffix(path, "/") + "/"
	return lo.Filter(nodes, func(n FileNode, i int) bool {
		return path == "" || strings.HasPrefix(n.Path(), folder)
	})
}

// seekPosition returns the absolute position of a seek on a stream of size bytes
func seekPosition(pos, size, offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = pos + offset
	case io.SeekEnd:
		pos = size + offset
	default:
		return 0, g.Error("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, g.Error("negative position %d", pos)
	}
	return pos, nil
}

// rangeReader reads a remote object from a position. A seek closes the
// current download; the next read opens one from the new position.
type rangeReader struct {
	name string
	size int64
	pos  int64
	body io.ReadCloser
	open func(pos int64) (io.ReadCloser, error)
}

func (r *rangeReader) Size() int64 {
	return r.size
}

func (r *rangeReader) Read(p []byte) (n int, err error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}

	if r.body == nil {
		body, err := r.open(r.pos)
		if err != nil {
			return 0, g.Error(err, "could not read %s from byte %d", r.name, r.pos)
		}
		r.body = body
	}

	n, err = r.body.Read(p)
	r.pos += int64(n)
	return
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := seekPosition(r.pos, r.size, offset, whence)
	if err != nil {
		return 0, err
	}

	if pos != r.pos {
		r.Close()
		r.pos = pos
	}
	return pos, nil
}

func (r *rangeReader) Close() (err error) {
	if r.body != nil {
		err = r.body.Close()
		r.body = nil
	}
	return
}

// uploadWriter feeds an upload running in its own goroutine
type uploadWriter struct {
	pipeW *io.PipeWriter
	done  chan error
	once  sync.Once
	err   error
}

// newUploadWriter starts upload, which consumes what is written
func newUploadWriter(upload func(reader io.Reader) error) *uploadWriter {
	pipeR, pipeW := io.Pipe()
	w := &uploadWriter{pipeW: pipeW, done: make(chan error, 1)}

	go func() {
		err := upload(pipeR)
		if err != nil {
			pipeR.CloseWithError(err)
		} else {
			pipeR.Close()
		}
		w.done <- err
	}()

	return w
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pipeW.Write(p)
}

// Close completes the upload and waits for it
func (w *uploadWriter) Close() error {
	w.once.Do(func() {
		w.pipeW.Close()
		w.err = <-w.done
	})
	return w.err
}

////////////////////// BASE

// BaseFileSysClient is the base file system type.
type BaseFileSysClient struct {
	properties map[string]string
	context    *g.Context
	fsType     Type
}

// Context provides a pointer to context
func (fs *BaseFileSysClient) Context() (context *g.Context) {
	return fs.context
}

// Client provides a pointer to itself
func (fs *BaseFileSysClient) Client() *BaseFileSysClient {
	return fs
}

// Close closes the client
func (fs *BaseFileSysClient) Close() error {
	return nil
}

// FsType return the type of the client
func (fs *BaseFileSysClient) FsType() Type {
	return fs.fsType
}

// GetProp returns the value of a property
func (fs *BaseFileSysClient) GetProp(key string, keys ...string) string {
	fs.context.Mux.Lock()
	val := fs.properties[strings.ToLower(key)]
	for _, key := range keys {
		if val != "" {
			break
		}
		val = fs.properties[strings.ToLower(key)]
	}
	fs.context.Mux.Unlock()
	return val
}

// SetProp sets the value of a property
func (fs *BaseFileSysClient) SetProp(key string, val string) {
	fs.context.Mux.Lock()
	if fs.properties == nil {
		fs.properties = map[string]string{}
	}
	fs.properties[strings.ToLower(key)] = val
	fs.context.Mux.Unlock()
}

// Props returns a copy of the properties map
func (fs *BaseFileSysClient) Props() map[string]string {
	m := map[string]string{}
	fs.context.Mux.Lock()
	for k, v := range fs.properties {
		m[k] = v
	}
	fs.context.Mux.Unlock()
	return m
}

// ExpandSplits lists the files matching uri and computes their splits
func ExpandSplits(ctx context.Context, fs FileSysClient, codecs iop.CodecLookup, uri string, splitSize int64) (splits []iop.Split, err error) {
	nodes, err := fs.List(ctx, uri)
	if err != nil {
		return nil, g.Error(err, "could not list %s", uri)
	}

	nodes = nodes.Files()
	if len(nodes) == 0 {
		return nil, g.Error("no files found for %s", uri)
	}
	nodes.Sort()

	for _, node := range nodes {
		splits = append(splits, iop.ComputeSplits(codecs, node.URI, cast.ToInt64(node.Size), splitSize)...)
	}
	return splits, nil
}
