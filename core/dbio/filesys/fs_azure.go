package filesys

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/flarco/g"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
)

// AzureFileSysClient is a file system client for Azure Blob Storage.
// URLs look like https://<account>.blob.core.windows.net/<container>/<key>
type AzureFileSysClient struct {
	BaseFileSysClient
	client    *azblob.Client
	account   string
	container string
}

// Init initializes the fs client
func (fs *AzureFileSysClient) Init(ctx context.Context) (err error) {
	for _, key := range g.ArrStr("ACCOUNT", "CONTAINER", "CONN_STR", "SAS_SVC_URL", "ACCOUNT_KEY") {
		if fs.GetProp(key) == "" {
			fs.SetProp(key, fs.GetProp("AZURE_"+key))
		}
	}

	fs.account = fs.GetProp("ACCOUNT")
	fs.container = fs.GetProp("CONTAINER")

	if u := fs.GetProp("URL"); u != "" {
		_, host, path, err := ParseURLType(u)
		if err != nil {
			return g.Error(err, "could not parse azure url")
		}
		if fs.account == "" {
			fs.account = strings.TrimSuffix(host, azureHostSuffix)
		}
		if fs.container == "" {
			fs.container = strings.Split(path, "/")[0]
		}
	}

	if fs.container == "" {
		return g.Error("did not provide azure container")
	}

	return fs.Connect()
}

// Prefix returns the url prefix
func (fs *AzureFileSysClient) Prefix(suffix ...string) string {
	return g.F("https://%s%s/%s", fs.account, azureHostSuffix, fs.container) + strings.Join(suffix, "")
}

// GetPath returns the blob key of url
func (fs *AzureFileSysClient) GetPath(uri string) (path string, err error) {
	uri = NormalizeURI(fs, uri)

	_, host, path, err := ParseURLType(uri)
	if err != nil {
		return
	}

	pathContainer := strings.Split(path, "/")[0]
	if host != fs.account+azureHostSuffix {
		err = g.Error("URL account differs from connection account. %s != %s%s", host, fs.account, azureHostSuffix)
	} else if pathContainer != fs.container {
		err = g.Error("URL container differs from connection container. %s != %s", pathContainer, fs.container)
	}

	return strings.TrimPrefix(strings.TrimPrefix(path, pathContainer), "/"), err
}

// Connect initiates the Azure client
func (fs *AzureFileSysClient) Connect() (err error) {
	serviceURL := g.F("https://%s%s/", fs.account, azureHostSuffix)

	if cs := fs.GetProp("CONN_STR"); cs != "" {
		connProps := g.KVArrToMap(strings.Split(cs, ";")...)
		if name := connProps["AccountName"]; name != "" {
			fs.account = name
		}

		fs.client, err = azblob.NewClientFromConnectionString(cs, &azblob.ClientOptions{})
		if err != nil {
			return g.Error(err, "Could not connect to Azure using provided CONN_STR")
		}
	} else if cs := fs.GetProp("SAS_SVC_URL"); cs != "" {
		if len(strings.Split(cs, "?")) != 2 {
			return g.Error("Invalid provided SAS_SVC_URL")
		}

		fs.client, err = azblob.NewClientWithNoCredential(cs, &azblob.ClientOptions{})
		if err != nil {
			return g.Error(err, "Could not connect to Azure using provided SAS_SVC_URL")
		}
	} else if ak := fs.GetProp("ACCOUNT_KEY"); ak != "" {
		cred, err := azblob.NewSharedKeyCredential(fs.account, ak)
		if err != nil {
			return g.Error(err, "Could not process shared key / account key")
		}

		fs.client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, &azblob.ClientOptions{})
		if err != nil {
			return g.Error(err, "Could not connect to Azure using shared key credentials")
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return g.Error(err, "No Azure credentials provided")
		}

		fs.client, err = azblob.NewClient(serviceURL, cred, &azblob.ClientOptions{})
		if err != nil {
			return g.Error(err, "Could not connect to Azure using default credentials")
		}
	}
	return
}

// OpenFile returns a seekable reader over the blob. The first read
// after a seek downloads from the current position.
func (fs *AzureFileSysClient) OpenFile(ctx context.Context, uri string) (file iop.RandomAccessFile, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	props, err := fs.client.ServiceClient().NewContainerClient(fs.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return nil, g.Error(err, "could not get properties of blob: "+uri)
	}

	return &rangeReader{
		name: uri,
		size: cast.ToInt64(props.ContentLength),
		open: func(pos int64) (io.ReadCloser, error) {
			resp, err := fs.client.DownloadStream(ctx, fs.container, key, &blob.DownloadStreamOptions{
				Range: blob.HTTPRange{Offset: pos},
			})
			if err != nil {
				return nil, g.Error(err, "Error DownloadStream: "+uri)
			}
			return resp.Body, nil
		},
	}, nil
}

// Create returns a writer uploading to the blob.
// The blob exists once Close returns without error.
func (fs *AzureFileSysClient) Create(ctx context.Context, uri string) (writer io.WriteCloser, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	return newUploadWriter(func(reader io.Reader) error {
		_, err := fs.client.UploadStream(ctx, fs.container, key, reader, &blockblob.UploadStreamOptions{})
		if err != nil {
			return g.Error(err, "Error UploadStream: "+uri)
		}
		return nil
	}), nil
}

// List lists the blob at path, the blobs under a prefix,
// or the blobs matching a glob pattern
func (fs *AzureFileSysClient) List(ctx context.Context, uri string) (nodes FileNodes, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	// node paths start with the container
	pattern, err := makeGlob(fs.container + "/" + key)
	if err != nil {
		return nil, err
	}

	prefix := key
	if pattern != nil {
		prefix = GetDeepestParent(key)
	}

	pagerOpts := &container.ListBlobsFlatOptions{}
	if prefix != "" {
		pagerOpts.Prefix = g.String(prefix)
	}

	maxItems := lo.Ternary(recursiveLimit == 0, 10000, recursiveLimit)
	pager := fs.client.NewListBlobsFlatPager(fs.container, pagerOpts)

pages:
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nodes, g.Error(err, "Could not get list blob for: "+uri)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.HasSuffix(*item.Name, "/") {
				continue
			}

			node := FileNode{URI: fs.Prefix("/") + *item.Name}
			if item.Properties != nil {
				node.Size = cast.ToUint64(item.Properties.ContentLength)
				if item.Properties.LastModified != nil {
					node.Updated = item.Properties.LastModified.Unix()
				}
			}

			nodes.AddWhere(pattern, node)
			if len(nodes) >= maxItems {
				g.Warn("Azure Storage returns results recursively by default. Limiting list results at %d items. Set SLINGCSV_RECURSIVE_LIMIT to increase.", maxItems)
				break pages
			}
		}
	}

	if pattern != nil {
		return nodes, nil
	}
	return filterPrefixed(nodes, fs.container+"/"+key), nil
}
