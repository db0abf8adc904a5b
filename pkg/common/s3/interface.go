/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package s3

import (
	"context"
	"io"
	"time"
)

type Interface interface {
	EnsureBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, body io.Reader) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	PresignGetObject(ctx context.Context, key string, expire time.Duration) (string, error)
	PresignPutObject(ctx context.Context, key string, expire time.Duration) (string, error)

	Bucket() string
}
