package filesys

import (
	"sort"
	"strings"

	"github.com/flarco/g"
	"github.com/gobwas/glob"
	"github.com/spf13/cast"
)

// FileNode represents a file node
type FileNode struct {
	URI     string `json:"uri"`
	IsDir   bool   `json:"is_dir"`
	Size    uint64 `json:"size,omitempty"`
	Updated int64  `json:"updated,omitempty"`
}

// Name returns the last path element
func (fn *FileNode) Name() string {
	parts := strings.Split(strings.TrimSuffix(fn.Path(), "/"), "/")
	return parts[len(parts)-1]
}

// Path returns the path without the prefix
func (fn *FileNode) Path() string {
	_, _, path, err := ParseURLType(fn.URI)
	if g.LogError(err) {
		return ""
	}
	return path
}

// FileNodes represent file nodes
type FileNodes []FileNode

// AddWhere adds the nodes whose path matches pattern
func (fns *FileNodes) AddWhere(pattern *glob.Glob, ns ...FileNode) {
	for _, n := range ns {
		if pattern == nil || (*pattern).Match(strings.TrimSuffix(n.Path(), "/")) {
			fns.Add(n)
		}
	}
}

// Add adds a new node to list
func (fns *FileNodes) Add(ns ...FileNode) {
	nodes := *fns
	for i, n := range ns {
		if strings.HasSuffix(n.URI, "/") {
			ns[i].IsDir = true
		} else if ns[i].IsDir && !strings.HasSuffix(n.URI, "/") {
			ns[i].URI = n.URI + "/"
		}
	}
	nodes = append(nodes, ns...)
	*fns = nodes
}

// URIs returns the uris
func (fns FileNodes) URIs() (uris []string) {
	for _, p := range fns {
		uris = append(uris, p.URI)
	}
	return uris
}

func (fns FileNodes) TotalSize() uint64 {
	total := uint64(0)
	for _, fn := range fns {
		total = total + fn.Size
	}
	return total
}

// Sort sorts the nodes, folders first then by uri
func (fns FileNodes) Sort() {
	sort.Slice(fns, func(i, j int) bool {
		val := func(n FileNode) string {
			return cast.ToString(!n.IsDir) + n.URI
		}
		return val(fns[i]) < val(fns[j])
	})
}

// Files returns only files (no folders)
func (fns FileNodes) Files() (nodes FileNodes) {
	for _, fn := range fns {
		if !fn.IsDir {
			nodes = append(nodes, fn)
		}
	}
	return
}
