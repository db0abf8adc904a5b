/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package s3

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"k8s.io/klog/v2"

	commonconfig "github.com/NVIDIA/OSMO-sub000/pkg/common/config"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

var (
	once     sync.Once
	instance Interface
)

type Client struct {
	api      *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

// NewClient creates the singleton object-store client from the service
// config. A nil return means object storage is unavailable; callers degrade
// to database-only operation.
func NewClient(ctx context.Context) Interface {
	once.Do(func() {
		cli, err := newClient(ctx)
		if err != nil {
			klog.ErrorS(err, "failed to init s3 client")
			return
		}
		if err = cli.EnsureBucket(ctx); err != nil {
			klog.ErrorS(err, "failed to ensure bucket", "bucket", cli.bucket)
			return
		}
		klog.Infof("init s3 client successfully, bucket: %s", cli.bucket)
		instance = cli
	})
	return instance
}

func newClient(ctx context.Context) (*Client, error) {
	bucket := commonconfig.GetS3Bucket()
	if bucket == "" {
		return nil, commonerrors.NewInternalError("s3 bucket not configured")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(commonconfig.GetS3Region()),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			commonconfig.GetS3AccessKey(), commonconfig.GetS3SecretKey(), "")),
	)
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := commonconfig.GetS3Endpoint(); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{
		api:      api,
		presign:  s3.NewPresignClient(api),
		uploader: manager.NewUploader(api),
		bucket:   bucket,
	}, nil
}

func (c *Client) Bucket() string { return c.bucket }

func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return err
	}
	_, err = c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// PutObject streams through the upload manager so large log archives do not
// need to fit in memory.
func (c *Client) PutObject(ctx context.Context, key string, body io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	stream, err := c.GetObjectStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}

func (c *Client) GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, commonerrors.NewNotFound("Object", key)
		}
		return nil, err
	}
	return output.Body, nil
}

func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (c *Client) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}
	return keys, nil
}

func (c *Client) PresignGetObject(ctx context.Context, key string, expire time.Duration) (string, error) {
	request, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expire))
	if err != nil {
		return "", err
	}
	return request.URL, nil
}

func (c *Client) PresignPutObject(ctx context.Context, key string, expire time.Duration) (string, error) {
	request, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expire))
	if err != nil {
		return "", err
	}
	return request.URL, nil
}
