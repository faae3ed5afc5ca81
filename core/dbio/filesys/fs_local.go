package filesys

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/flarco/g"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
)

// LocalFileSysClient is a file system client for the local file sys.
type LocalFileSysClient struct {
	BaseFileSysClient
}

// Init initializes the fs client
func (fs *LocalFileSysClient) Init(ctx context.Context) (err error) {
	return
}

// Prefix returns the url prefix
func (fs *LocalFileSysClient) Prefix(suffix ...string) string {
	return g.F("%s://", fs.FsType().String()) + strings.Join(suffix, "")
}

// GetPath returns the path of url
func (fs *LocalFileSysClient) GetPath(uri string) (path string, err error) {
	uri = NormalizeURI(fs, uri)
	path = strings.TrimPrefix(uri, fs.Prefix())
	if path == "" {
		err = g.Error("empty path: %s", uri)
	}
	return
}

// localFile is an os.File with its size
type localFile struct {
	*os.File
	size int64
}

func (lf *localFile) Size() int64 {
	return lf.size
}

// OpenFile opens the file for random access
func (fs *LocalFileSysClient) OpenFile(ctx context.Context, uri string) (file iop.RandomAccessFile, err error) {
	path, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, g.Error(err, "Unable to open "+path)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, g.Error(err, "Unable to stat "+path)
	} else if stat.IsDir() {
		f.Close()
		return nil, g.Error("%s is a directory", path)
	}

	return &localFile{File: f, size: stat.Size()}, nil
}

// Create creates or truncates the file, and its parent folders
func (fs *LocalFileSysClient) Create(ctx context.Context, uri string) (writer io.WriteCloser, err error) {
	filePath, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	folderPath := path.Dir(filePath)
	if !g.PathExists(folderPath) {
		if err = os.MkdirAll(folderPath, 0755); err != nil {
			return nil, g.Error(err, "Unable to create folder "+folderPath)
		}
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, g.Error(err, "Unable to create "+filePath)
	}
	return file, nil
}

// List lists the file at path, the entries of a folder, or
// the files matching a glob pattern (walked recursively)
func (fs *LocalFileSysClient) List(ctx context.Context, uri string) (nodes FileNodes, err error) {
	path, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	makeNode := func(subPath string, info os.FileInfo) FileNode {
		return FileNode{
			URI:     fs.Prefix() + filepath.ToSlash(subPath),
			Updated: info.ModTime().Unix(),
			Size:    cast.ToUint64(info.Size()),
			IsDir:   info.IsDir(),
		}
	}

	if !hasGlob(path) {
		s, err := os.Stat(path)
		if err != nil {
			return nodes, nil // path doesn't exist
		} else if !s.IsDir() {
			nodes.Add(makeNode(path, s))
			return nodes, nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, g.Error(err, "could not read dir "+path)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			nodes.Add(makeNode(strings.TrimSuffix(path, "/")+"/"+entry.Name(), info))
		}
		return nodes, nil
	}

	pattern, err := makeGlob(path)
	if err != nil {
		return nil, err
	}

	root := GetDeepestParent(path)
	if root == "" {
		root = "."
	}

	maxItems := lo.Ternary(recursiveLimit == 0, 10000, recursiveLimit)
	err = filepath.WalkDir(root, func(subPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		nodes.AddWhere(pattern, makeNode(subPath, info))
		if len(nodes) >= maxItems {
			g.Warn("Limiting local list results at %d items. Set SLINGCSV_RECURSIVE_LIMIT to increase.", maxItems)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, g.Error(err, "could not list "+uri)
	}

	return nodes, nil
}
