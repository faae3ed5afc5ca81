package filesys

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/flarco/g"
	"github.com/gobwas/glob"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
)

// S3FileSysClient is a file system client for Amazon S3 and compatible stores.
type S3FileSysClient struct {
	BaseFileSysClient
	bucket    string
	session   *session.Session
	svc       s3iface.S3API
	RegionMap map[string]string
	mux       sync.Mutex
}

// Init initializes the fs client
func (fs *S3FileSysClient) Init(ctx context.Context) (err error) {
	for _, key := range g.ArrStr("BUCKET", "ACCESS_KEY_ID", "SECRET_ACCESS_KEY", "REGION", "DEFAULT_REGION", "SESSION_TOKEN", "ENDPOINT", "ROLE_ARN", "PROFILE") {
		if fs.GetProp(key) == "" {
			fs.SetProp(key, fs.GetProp("AWS_"+key))
		}
	}

	fs.bucket = fs.GetProp("BUCKET")
	if fs.bucket == "" && fs.GetProp("URL") != "" {
		_, fs.bucket, _, err = ParseURLType(fs.GetProp("URL"))
		if err != nil {
			return g.Error(err, "could not parse bucket from url")
		}
	}
	fs.RegionMap = map[string]string{}

	return fs.Connect()
}

// Prefix returns the url prefix
func (fs *S3FileSysClient) Prefix(suffix ...string) string {
	return g.F("%s://%s", fs.FsType().String(), fs.bucket) + strings.Join(suffix, "")
}

// GetPath returns the key of url
func (fs *S3FileSysClient) GetPath(uri string) (path string, err error) {
	// normalize, in case url is provided without prefix
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

const defaultRegion = "us-east-1"

// Connect initiates the S3 client
func (fs *S3FileSysClient) Connect() (err error) {
	region := fs.GetProp("REGION", "DEFAULT_REGION")
	if region == "" {
		region = defaultRegion
	}

	awsConfig := &aws.Config{
		Region:                         aws.String(region),
		S3ForcePathStyle:               aws.Bool(true),
		DisableRestProtocolURICleaning: aws.Bool(true),
	}
	if endpoint := fs.GetProp("ENDPOINT"); endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
	}

	if _, err := credentials.NewEnvCredentials().Get(); err == nil {
		g.Debug("using default AWS environment credentials")
	} else if profile := fs.GetProp("PROFILE"); profile != "" {
		creds := credentials.NewSharedCredentials("", profile)
		if _, err := creds.Get(); err != nil {
			return g.Error(err, "Failed to load credentials for profile '%s'. Please check if profile exists in ~/.aws/credentials", profile)
		}
		awsConfig.Credentials = creds
	} else if fs.GetProp("ACCESS_KEY_ID") != "" && fs.GetProp("SECRET_ACCESS_KEY") != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			fs.GetProp("ACCESS_KEY_ID"),
			fs.GetProp("SECRET_ACCESS_KEY"),
			fs.GetProp("SESSION_TOKEN"),
		)
	}

	fs.session, err = session.NewSession(awsConfig)
	if err != nil {
		return g.Error(err, "Could not create AWS session (did not provide ACCESS_KEY_ID/SECRET_ACCESS_KEY or default AWS profile).")
	}

	if role := fs.GetProp("ROLE_ARN"); role != "" {
		fs.session.Config.Credentials = stscreds.NewCredentials(fs.session, role)
	}

	return
}

// client returns the S3 api, setting the region based on the bucket
func (fs *S3FileSysClient) client() s3iface.S3API {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	if fs.svc != nil {
		return fs.svc
	}

	endpoint := fs.GetProp("ENDPOINT")
	region := fs.GetProp("REGION")

	switch {
	case fs.bucket == "":
	case region != "":
		fs.RegionMap[fs.bucket] = region
	case strings.HasSuffix(endpoint, ".cloudflarestorage.com"):
		fs.RegionMap[fs.bucket] = "auto"
	case endpoint == "":
		region, err := s3manager.GetBucketRegion(fs.Context().Ctx, fs.session, fs.bucket, defaultRegion)
		if err != nil {
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "NotFound" {
				g.Debug("unable to find bucket %s's region", fs.bucket)
			} else {
				g.Debug(g.Error(err, "Error getting Region for "+fs.bucket).Error())
			}
		} else {
			fs.RegionMap[fs.bucket] = region
		}
	}

	if region := fs.RegionMap[fs.bucket]; region != "" {
		fs.session.Config.Region = aws.String(region)
	}

	fs.svc = s3.New(fs.session)
	return fs.svc
}

// OpenFile returns a seekable reader over the object. The first read
// after a seek issues a ranged GetObject from the current position.
func (fs *S3FileSysClient) OpenFile(ctx context.Context, uri string) (file iop.RandomAccessFile, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	svc := fs.client()
	head, err := svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, g.Error(err, "could not head S3 object: "+uri)
	}

	return &rangeReader{
		name: uri,
		size: aws.Int64Value(head.ContentLength),
		open: func(pos int64) (io.ReadCloser, error) {
			out, err := svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(fs.bucket),
				Key:    aws.String(key),
				Range:  aws.String(g.F("bytes=%d-", pos)),
			})
			if err != nil {
				return nil, g.Error(err, "Error downloading S3 File -> "+key)
			}
			return out.Body, nil
		},
	}, nil
}

// Create returns a writer uploading to the object.
// The object exists once Close returns without error.
func (fs *S3FileSysClient) Create(ctx context.Context, uri string) (writer io.WriteCloser, err error) {
	key, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	uploader := s3manager.NewUploaderWithClient(fs.client(), func(u *s3manager.Uploader) {
		u.Concurrency = lo.Ternary(fs.Context().Wg.Limit > 0, fs.Context().Wg.Limit, s3manager.DefaultUploadConcurrency)
		if partSize := cast.ToInt64(fs.GetProp("PART_SIZE")); partSize > 0 {
			u.PartSize = partSize
		}
	})

	return newUploadWriter(func(reader io.Reader) error {
		_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(fs.bucket),
			Key:    aws.String(key),
			Body:   reader,
		})
		if err != nil {
			return g.Error(err, "Error uploading S3 File -> "+key)
		}
		return nil
	}), nil
}

// List lists the object at path, the objects under a prefix,
// or the objects matching a glob pattern
func (fs *S3FileSysClient) List(ctx context.Context, uri string) (nodes FileNodes, err error) {
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

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
		Prefix: aws.String(prefix),
	}

	nodes, err = fs.doList(ctx, input, pattern)
	if err != nil || pattern != nil {
		return
	}
	return filterPrefixed(nodes, path), nil
}

func (fs *S3FileSysClient) doList(ctx context.Context, input *s3.ListObjectsV2Input, pattern *glob.Glob) (nodes FileNodes, err error) {
	maxItems := lo.Ternary(recursiveLimit == 0, 10000, recursiveLimit)
	svc := fs.client()

	for {
		result, err := svc.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nodes, g.Error(err, "Error with ListObjectsV2 for: %s", aws.StringValue(input.Prefix))
		}

		for _, obj := range result.Contents {
			if obj == nil {
				continue
			}

			node := FileNode{
				URI:  fs.Prefix("/") + aws.StringValue(obj.Key),
				Size: cast.ToUint64(aws.Int64Value(obj.Size)),
			}
			if obj.LastModified != nil {
				node.Updated = obj.LastModified.Unix()
			}

			nodes.AddWhere(pattern, node)
			if len(nodes) >= maxItems {
				g.Warn("Limiting S3 list results at %d items. Set SLINGCSV_RECURSIVE_LIMIT to increase.", maxItems)
				return nodes, nil
			}
		}

		if !aws.BoolValue(result.IsTruncated) {
			break
		}
		input.SetContinuationToken(aws.StringValue(result.NextContinuationToken))
	}

	return
}
