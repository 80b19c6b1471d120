// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"code.cloudfoundry.org/clock"
	"github.com/dustin/go-humanize"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/logging"
)

const (
	uploadAttempts    = 5
	uploadInitialWait = time.Second
)

// uploader writes one object to a bucket.
type uploader interface {
	upload(ctx context.Context, object, contentType string, r io.Reader) error
}

type bucketUploader struct {
	bkt *storage.BucketHandle
}

func (u *bucketUploader) upload(ctx context.Context, object, contentType string, r io.Reader) error {
	w := u.bkt.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "failed to write object %q", object)
	}
	// Close completes the upload.
	return w.Close()
}

// GSArchiver uploads artifacts to a Cloud Storage bucket. Files are staged
// in a local directory until they are closed.
type GSArchiver struct {
	bucket  string
	prefix  string
	staging string
	up      uploader
	clk     clock.Clock
}

var _ Archiver = (*GSArchiver)(nil)

// NewGSArchiver returns an archiver uploading to gs://bucket/prefix, staging
// files under stagingDir.
func NewGSArchiver(ctx context.Context, bucket, prefix, stagingDir string) (*GSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}
	return newGSArchiver(bucket, prefix, stagingDir, &bucketUploader{bkt: client.Bucket(bucket)}, clock.NewClock()), nil
}

func newGSArchiver(bucket, prefix, stagingDir string, up uploader, clk clock.Clock) *GSArchiver {
	return &GSArchiver{bucket: bucket, prefix: prefix, staging: stagingDir, up: up, clk: clk}
}

func (a *GSArchiver) ArchivedTempfile(ctx context.Context, name, category, datatype string) (*File, error) {
	object := path.Join(a.prefix, category, name)
	p := filepath.Join(a.staging, category, name)
	return newFile(p, func(ctx context.Context, hostPath string) (string, error) {
		if err := a.uploadFile(ctx, object, datatype, hostPath); err != nil {
			return "", err
		}
		return fmt.Sprintf("https://storage.cloud.google.com/%s/%s", a.bucket, object), nil
	})
}

func (a *GSArchiver) Remote() bool { return true }

// uploadFile uploads hostPath, retrying with exponential backoff.
func (a *GSArchiver) uploadFile(ctx context.Context, object, contentType, hostPath string) error {
	wait := uploadInitialWait
	var err error
	for i := 0; i < uploadAttempts; i++ {
		if i > 0 {
			logging.Infof(ctx, "Retrying upload of %s in %v: %v", object, wait, err)
			select {
			case <-a.clk.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait *= 2
		}
		if err = a.uploadOnce(ctx, object, contentType, hostPath); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrBucketNotExist) {
			return err
		}
	}
	return err
}

func (a *GSArchiver) uploadOnce(ctx context.Context, object, contentType, hostPath string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := a.up.upload(ctx, object, contentType, f); err != nil {
		return err
	}
	if fi, err := f.Stat(); err == nil {
		logging.Debugf(ctx, "Uploaded gs://%s/%s (%s)", a.bucket, object, humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}
