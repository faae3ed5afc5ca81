package filesys

import (
	"context"
	"crypto/tls"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flarco/g"
	"github.com/jlaffaye/ftp"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
)

// FtpFileSysClient is for FTP and FTPS file systems.
// FTP runs one transfer per control connection, so every opened or
// created file dials its own connection. The main one lists and makes folders.
type FtpFileSysClient struct {
	BaseFileSysClient
	client *ftp.ServerConn
	mux    sync.Mutex
}

// Init initializes the fs client
func (fs *FtpFileSysClient) Init(ctx context.Context) (err error) {
	if fs.GetProp("PORT") == "" {
		fs.SetProp("PORT", "21")
	}

	if fs.GetProp("URL") != "" {
		u, err := url.Parse(fs.GetProp("URL"))
		if err != nil {
			return g.Error(err, "could not parse FTP URL")
		}

		if user := u.User.Username(); user != "" {
			fs.SetProp("USER", user)
		}
		if password, _ := u.User.Password(); password != "" {
			fs.SetProp("PASSWORD", password)
		}
		if host := u.Hostname(); host != "" {
			fs.SetProp("HOST", host)
		}
		if port := cast.ToInt(u.Port()); port != 0 {
			fs.SetProp("PORT", cast.ToString(port))
		}
		if strings.EqualFold(u.Scheme, "ftps") {
			fs.SetProp("FTPS", "true")
		}
	}

	fs.client, err = fs.dial()
	return err
}

// dial opens a logged-in control connection
func (fs *FtpFileSysClient) dial() (conn *ftp.ServerConn, err error) {
	timeout := cast.ToInt(fs.GetProp("TIMEOUT"))
	if timeout == 0 {
		timeout = 5
	}

	options := []ftp.DialOption{
		ftp.DialWithTimeout(time.Duration(timeout) * time.Second),
		ftp.DialWithForceListHidden(true),
	}

	if cast.ToBool(fs.GetProp("FTPS")) {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		}
		options = append(options, ftp.DialWithExplicitTLS(tlsConfig))
	}

	address := g.F("%s:%s", fs.GetProp("HOST"), fs.GetProp("PORT"))
	conn, err = ftp.Dial(address, options...)
	if err != nil {
		return nil, g.Error(err, "unable to connect to ftp server "+address)
	}

	err = conn.Login(fs.GetProp("USER"), fs.GetProp("PASSWORD"))
	if err != nil {
		conn.Quit()
		return nil, g.Error(err, "unable to login into ftp server")
	}

	return conn, nil
}

// Close logs out and closes the main connection
func (fs *FtpFileSysClient) Close() error {
	if fs.client != nil {
		fs.client.Logout()
		if err := fs.client.Quit(); err != nil {
			return g.Error(err, "could not close ftp connection")
		}
		fs.client = nil
	}
	return nil
}

// Prefix returns the url prefix
func (fs *FtpFileSysClient) Prefix(suffix ...string) string {
	scheme := lo.Ternary(cast.ToBool(fs.GetProp("FTPS")), "ftps", "ftp")
	return g.F("%s://%s:%s", scheme, fs.GetProp("HOST"), fs.GetProp("PORT")) + strings.Join(suffix, "")
}

// GetPath returns the absolute path of url
func (fs *FtpFileSysClient) GetPath(uri string) (path string, err error) {
	uri = NormalizeURI(fs, uri)

	_, host, path, err := ParseURLType(uri)
	if err != nil {
		return
	}

	if fs.GetProp("HOST") != host {
		err = g.Error("URL host differs from connection host. %s != %s", host, fs.GetProp("HOST"))
	}

	return "/" + strings.Trim(path, "/"), err
}

// ftpFile reads through its own connection, quit on Close
type ftpFile struct {
	*rangeReader
	conn *ftp.ServerConn
}

func (f *ftpFile) Close() error {
	err := f.rangeReader.Close()
	if qErr := f.conn.Quit(); err == nil && qErr != nil {
		err = g.Error(qErr, "could not close ftp connection")
	}
	return err
}

// OpenFile returns a seekable reader over the remote file. The first
// read after a seek retrieves from the current position (REST).
func (fs *FtpFileSysClient) OpenFile(ctx context.Context, uri string) (file iop.RandomAccessFile, err error) {
	path, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	conn, err := fs.dial()
	if err != nil {
		return nil, err
	}

	size, err := conn.FileSize(path)
	if err != nil {
		conn.Quit()
		return nil, g.Error(err, "Unable to get size of "+path)
	}

	reader := &rangeReader{
		name: uri,
		size: size,
		open: func(pos int64) (io.ReadCloser, error) {
			resp, err := conn.RetrFrom(path, uint64(pos))
			if err != nil {
				return nil, g.Error(err, "Unable to open "+path)
			}
			return resp, nil
		},
	}

	return &ftpFile{rangeReader: reader, conn: conn}, nil
}

// MkdirAll creates the folder and its parents
func (fs *FtpFileSysClient) MkdirAll(folderPath string) (err error) {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	parts := []string{}
	for _, part := range strings.Split(strings.Trim(folderPath, "/"), "/") {
		if part == "" {
			continue
		}
		parts = append(parts, part)
		dirPath := "/" + strings.Join(parts, "/")
		if _, err := fs.client.GetEntry(dirPath); err == nil {
			continue // exists
		}

		err = fs.client.MakeDir(dirPath)
		if err != nil && !strings.Contains(err.Error(), "exists") && !strings.Contains(err.Error(), "250") {
			return g.Error(err, "Unable to create directory '%s'", dirPath)
		}
	}
	return nil
}

// Create returns a writer storing into the remote file, after making
// its parent folders. The file exists once Close returns without error.
func (fs *FtpFileSysClient) Create(ctx context.Context, uri string) (writer io.WriteCloser, err error) {
	filePath, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	if i := strings.LastIndex(filePath, "/"); i > 0 {
		if err = fs.MkdirAll(filePath[:i]); err != nil {
			return nil, err
		}
	}

	conn, err := fs.dial()
	if err != nil {
		return nil, err
	}

	return newUploadWriter(func(reader io.Reader) error {
		defer conn.Quit()
		if err := conn.Stor(filePath, reader); err != nil {
			return g.Error(err, "Unable to write "+filePath)
		}
		return nil
	}), nil
}

// List lists the file at path, the entries of a folder, or
// the files matching a glob pattern (walked recursively)
func (fs *FtpFileSysClient) List(ctx context.Context, uri string) (nodes FileNodes, err error) {
	filePath, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	fs.mux.Lock()
	defer fs.mux.Unlock()

	makeNode := func(subPath string, entry *ftp.Entry) FileNode {
		return FileNode{
			URI:     fs.Prefix() + subPath,
			Size:    entry.Size,
			Updated: entry.Time.Unix(),
			IsDir:   entry.Type == ftp.EntryTypeFolder,
		}
	}

	if !hasGlob(filePath) {
		entry, err := fs.client.GetEntry(filePath)
		if err == nil && entry.Type != ftp.EntryTypeFolder && entry.Name != "." {
			nodes.Add(makeNode(filePath, entry))
			return nodes, nil
		}

		entries, err := fs.client.List(filePath)
		if err != nil {
			return nodes, nil // path doesn't exist
		}
		for _, entry := range entries {
			if g.In(entry.Name, "..", ".") {
				continue
			}
			nodes.Add(makeNode(strings.TrimSuffix(filePath, "/")+"/"+entry.Name, entry))
		}
		return nodes, nil
	}

	// node paths are relative to the root
	pattern, err := makeGlob(strings.TrimPrefix(filePath, "/"))
	if err != nil {
		return nil, err
	}

	maxItems := lo.Ternary(recursiveLimit == 0, 10000, recursiveLimit)
	walker := fs.client.Walk("/" + GetDeepestParent(strings.TrimPrefix(filePath, "/")))
	for walker.Next() {
		if err := walker.Err(); err != nil {
			return nodes, g.Error(err, "error walking "+walker.Path())
		}

		entry := walker.Stat()
		if entry.Type == ftp.EntryTypeFolder {
			continue
		}

		nodes.AddWhere(pattern, makeNode(walker.Path(), entry))
		if len(nodes) >= maxItems {
			g.Warn("Limiting FTP list results at %d items. Set SLINGCSV_RECURSIVE_LIMIT to increase.", maxItems)
			break
		}
	}

	return nodes, nil
}
