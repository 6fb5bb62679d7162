// Package s3 provides an objectstore.Driver implementation backed by Amazon
// S3 or any S3-compatible store (MinIO, Ceph RGW and friends).
//
// Large pulls are served by presigned GET URLs so blob bytes never proxy
// through the application tier.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/aerugo/aerugo/registry/objectstore"
	"github.com/aerugo/aerugo/registry/objectstore/factory"
)

const driverName = "s3"

// DriverParameters is a struct that encapsulates all of the driver
// parameters after all values have been set.
type DriverParameters struct {
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	RegionEndpoint string
	Secure         bool
	ForcePathStyle bool
	RootDirectory  string
}

func init() {
	factory.Register(driverName, &s3DriverFactory{})
}

type s3DriverFactory struct{}

func (f *s3DriverFactory) Create(parameters map[string]interface{}) (objectstore.Driver, error) {
	params, err := fromParameters(parameters)
	if err != nil {
		return nil, err
	}
	return New(params)
}

func fromParameters(parameters map[string]interface{}) (DriverParameters, error) {
	params := DriverParameters{
		Secure:         true,
		ForcePathStyle: true,
	}

	stringParam := func(name string, required bool, target *string) error {
		v, ok := parameters[name]
		if !ok || v == nil {
			if required {
				return fmt.Errorf("s3: no %s parameter provided", name)
			}
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("s3: the %s parameter must be a string", name)
		}
		*target = s
		return nil
	}

	if err := stringParam("accesskey", false, &params.AccessKey); err != nil {
		return params, err
	}
	if err := stringParam("secretkey", false, &params.SecretKey); err != nil {
		return params, err
	}
	if err := stringParam("bucket", true, &params.Bucket); err != nil {
		return params, err
	}
	if err := stringParam("region", true, &params.Region); err != nil {
		return params, err
	}
	if err := stringParam("regionendpoint", false, &params.RegionEndpoint); err != nil {
		return params, err
	}
	if err := stringParam("rootdirectory", false, &params.RootDirectory); err != nil {
		return params, err
	}

	if secure, ok := parameters["secure"]; ok {
		b, ok := secure.(bool)
		if !ok {
			return params, fmt.Errorf("s3: the secure parameter must be a boolean")
		}
		params.Secure = b
	}
	if fps, ok := parameters["forcepathstyle"]; ok {
		b, ok := fps.(bool)
		if !ok {
			return params, fmt.Errorf("s3: the forcepathstyle parameter must be a boolean")
		}
		params.ForcePathStyle = b
	}

	return params, nil
}

// Driver talks to one bucket with an optional key prefix.
type Driver struct {
	s3            *s3.S3
	uploader      *s3manager.Uploader
	bucket        string
	rootDirectory string
}

var _ objectstore.Driver = &Driver{}

// New constructs a Driver with the given parameters.
func New(params DriverParameters) (*Driver, error) {
	awsConfig := aws.NewConfig().
		WithRegion(params.Region).
		WithS3ForcePathStyle(params.ForcePathStyle)

	if params.RegionEndpoint != "" {
		awsConfig = awsConfig.WithEndpoint(params.RegionEndpoint)
	}
	if !params.Secure {
		awsConfig = awsConfig.WithDisableSSL(true)
	}
	if params.AccessKey != "" || params.SecretKey != "" {
		awsConfig = awsConfig.WithCredentials(
			credentials.NewStaticCredentials(params.AccessKey, params.SecretKey, ""))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("s3: creating session: %w", err)
	}

	svc := s3.New(sess)

	return &Driver{
		s3:            svc,
		uploader:      s3manager.NewUploaderWithClient(svc),
		bucket:        params.Bucket,
		rootDirectory: strings.Trim(params.RootDirectory, "/"),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) s3Key(key string) string {
	if d.rootDirectory == "" {
		return strings.TrimPrefix(key, "/")
	}
	return path.Join(d.rootDirectory, strings.TrimPrefix(key, "/"))
}

// Put streams the content of r to the bucket under key. The uploader
// splits the stream into multipart chunks, so content length need not be
// known up front and nothing is spooled to local disk.
func (d *Driver) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	_, err := d.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Key(key)),
		Body:   cr,
	})
	if err != nil {
		return 0, parseError(key, err)
	}

	return cr.n, nil
}

// Get returns a reader over the object's content.
func (d *Driver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := d.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Key(key)),
	})
	if err != nil {
		return nil, parseError(key, err)
	}

	return resp.Body, nil
}

// Head returns the object's size and modification time.
func (d *Driver) Head(ctx context.Context, key string) (objectstore.Stat, error) {
	resp, err := d.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Key(key)),
	})
	if err != nil {
		return objectstore.Stat{}, parseError(key, err)
	}

	stat := objectstore.Stat{}
	if resp.ContentLength != nil {
		stat.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		stat.ModTime = *resp.LastModified
	}

	return stat, nil
}

// Delete removes the object. S3 deletes are idempotent, so a missing key is
// detected with a preceding head request.
func (d *Driver) Delete(ctx context.Context, key string) error {
	if _, err := d.Head(ctx, key); err != nil {
		return err
	}

	_, err := d.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Key(key)),
	})
	return parseError(key, err)
}

// PresignGet returns a time-limited URL granting read access to the object.
func (d *Driver) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, _ := d.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Key(key)),
	})
	req.SetContext(ctx)

	return req.Presign(expires)
}

func parseError(key string, err error) error {
	if err == nil {
		return nil
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return objectstore.KeyNotFoundError{Key: key, DriverName: driverName}
		}
	}

	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
