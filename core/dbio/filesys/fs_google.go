package filesys

import (
	"context"
	"io"
	"os"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"github.com/flarco/g"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GoogleFileSysClient is a file system client for Google Cloud Storage.
type GoogleFileSysClient struct {
	BaseFileSysClient
	client    *gcstorage.Client
	bucket    string
	projectID string
}

// Init initializes the fs client
func (fs *GoogleFileSysClient) Init(ctx context.Context) (err error) {
	for _, key := range g.ArrStr("BUCKET", "KEY_FILE", "KEY_BODY", "CRED_API_KEY") {
		if fs.GetProp(key) == "" {
			fs.SetProp(key, fs.GetProp("GC_"+key))
		}
	}

	fs.bucket = fs.GetProp("BUCKET")
	if fs.bucket == "" && fs.GetProp("URL") != "" {
		_, fs.bucket, _, err = ParseURLType(fs.GetProp("URL"))
		if err != nil {
			return g.Error(err, "could not parse bucket from url")
		}
	}

	return fs.Connect()
}

// Prefix returns the url prefix
func (fs *GoogleFileSysClient) Prefix(suffix ...string) string {
	return g.F("%s://%s", fs.FsType().String(), fs.bucket) + strings.Join(suffix, "")
}

// GetPath returns the key of url
func (fs *GoogleFileSysClient) GetPath(uri string) (path string, err error) {
	uri = NormalizeURI(fs, uri)

	_, host, path, err := ParseURLType(uri)
	if err != nil {
		return
	}

	if fs.bucket != host {
		err = g.Error("URL bucket differs from connection bucket. %s != %s", host, fs.bucket)
	}

	return path, err
}

// Connect initiates the Google Cloud Storage client
func (fs *GoogleFileSysClient) Connect() (err error) {
	var authOption option.ClientOption
	var credJsonBody string

	if val := fs.GetProp("KEY_BODY"); val != "" {
		credJsonBody = val
		authOption = option.WithCredentialsJSON([]byte(val))
	} else if val := fs.GetProp("KEY_FILE", "GOOGLE_APPLICATION_CREDENTIALS"); val != "" {
		authOption = option.WithCredentialsFile(val)
		b, err := os.ReadFile(val)
		if err != nil {
			return g.Error(err, "could not read google cloud key file")
		}
		credJsonBody = string(b)
	} else if val := fs.GetProp("CRED_API_KEY"); val != "" {
		authOption = option.WithAPIKey(val)
	} else {
		creds, err := google.FindDefaultCredentials(fs.Context().Ctx)
		if err != nil {
			return g.Error(err, "No Google credentials provided or could not find Application Default Credentials.")
		}
		authOption = option.WithCredentials(creds)
	}

	if credJsonBody != "" {
		m := g.M()
		g.Unmarshal(credJsonBody, &m)
		fs.projectID = cast.ToString(m["project_id"])
	}

	fs.client, err = gcstorage.NewClient(fs.Context().Ctx, authOption)
	if err != nil {
		return g.Error(err, "Could not connect to GS Storage")
	}

	return nil
}

// OpenFile returns a seekable reader over the object. Each read
// after a seek opens a range reader from the current position.
func (fs *GoogleFileSysClient) OpenFile(ctx context.Context, uri string) (file iop.RandomAccessFile, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	obj := fs.client.Bucket(fs.bucket).Object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, g.Error(err, "could not get attributes of GS object: "+uri)
	}

	return &rangeReader{
		name: uri,
		size: attrs.Size,
		open: func(pos int64) (io.ReadCloser, error) {
			reader, err := obj.NewRangeReader(ctx, pos, -1)
			if err != nil {
				return nil, g.Error(err, "Could not get reader for "+obj.ObjectName())
			}
			return reader, nil
		},
	}, nil
}

// Create returns a writer uploading to the object.
// The object exists once Close returns without error.
func (fs *GoogleFileSysClient) Create(ctx context.Context, uri string) (writer io.WriteCloser, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	wc := fs.client.Bucket(fs.bucket).Object(key).NewWriter(ctx)
	if chunkSize := cast.ToInt(fs.GetProp("CHUNK_SIZE")); chunkSize > 0 {
		wc.ChunkSize = chunkSize
	}
	return wc, nil
}

// List lists the object at path, the objects under a prefix,
// or the objects matching a glob pattern
func (fs *GoogleFileSysClient) List(ctx context.Context, uri string) (nodes FileNodes, err error) {
	path, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	pattern, err := makeGlob(path)
	if err != nil {
		return nil, err
	}

	prefix := path
	if pattern != nil {
		prefix = GetDeepestParent(path)
	}

	maxItems := lo.Ternary(recursiveLimit == 0, 10000, recursiveLimit)
	query := &gcstorage.Query{Prefix: prefix}
	query.SetAttrSelection([]string{"Name", "Size", "Updated"})
	it := fs.client.Bucket(fs.bucket).Objects(ctx, query)

	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nodes, g.Error(err, "Error Iterating")
		} else if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}

		nodes.AddWhere(pattern, FileNode{
			URI:     fs.Prefix("/") + attrs.Name,
			Size:    cast.ToUint64(attrs.Size),
			Updated: attrs.Updated.Unix(),
		})
		if len(nodes) >= maxItems {
			g.Warn("Google storage returns results recursively by default. Limiting results at %d items. Set SLINGCSV_RECURSIVE_LIMIT to increase.", maxItems)
			break
		}
	}

	if pattern != nil {
		return nodes, nil
	}
	return filterPrefixed(nodes, path), nil
}
