// Package s3obj implements a data source that streams a CSV object from S3 or
// an S3-compatible store (MinIO, Ceph RGW).
package s3obj

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
)

// Config locates the object and the endpoint. Credentials fall back to the
// default AWS chain (env, shared config, instance role) when the static pair
// is empty.
type Config struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// getObjectAPI is the slice of the S3 client this package needs.
type getObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source streams one object. Each Open issues a new GetObject.
type Source struct {
	api    getObjectAPI
	bucket string
	key    string
}

var _ datasource.Source = (*Source)(nil)

// New builds an S3 client from cfg and returns a Source for cfg.Bucket/cfg.Key.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, errors.New("s3obj: bucket and key are required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3obj: region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3obj: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithAPI(client, cfg.Bucket, cfg.Key), nil
}

func newWithAPI(api getObjectAPI, bucket, key string) *Source {
	return &Source{api: api, bucket: bucket, key: strings.TrimPrefix(key, "/")}
}

// Name returns the s3:// URI of the object.
func (s *Source) Name() string { return "s3://" + s.bucket + "/" + s.key }

// Open returns the object body. A missing key wraps datasource.ErrNotFound.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &nsb) {
			return nil, fmt.Errorf("%w: get object %s: %w", datasource.ErrNotFound, s.Name(), err)
		}
		return nil, fmt.Errorf("get object %s: %w", s.Name(), err)
	}
	return out.Body, nil
}
