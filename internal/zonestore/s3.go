package zonestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dropwatch-go/internal/core"
)

// S3ZoneStore is an S3-backed implementation of core.ZoneStore, for
// off-node archival once a site outgrows local disk. Keys are laid out as
// <prefix>/<tld>/<YYYYMMDD>.zone, mirroring the filesystem backend's layout.
type S3ZoneStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3ZoneStore builds an S3ZoneStore using the default AWS credential
// chain (env vars, shared config, IAM role).
func NewS3ZoneStore(bucket, prefix, region string) (*S3ZoneStore, error) {
	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3ZoneStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}, nil
}

func (v *S3ZoneStore) key(tld string, date core.Date) string {
	if v.prefix == "" {
		return fmt.Sprintf("%s/%s.zone", tld, date.Compact())
	}
	return fmt.Sprintf("%s/%s/%s.zone", v.prefix, tld, date.Compact())
}

type s3Handle struct {
	tld  string
	date core.Date
	buf  bytes.Buffer
}

func (h *s3Handle) Write(p []byte) (int, error) { return h.buf.Write(p) }
func (h *s3Handle) Discard() error              { h.buf.Reset(); return nil }

// Reserve buffers the upload in memory; S3 has no partial-object visibility
// so there is nothing to reserve server-side. The buffer is only published
// to the bucket on Commit.
func (v *S3ZoneStore) Reserve(ctx context.Context, tld string, date core.Date) (core.Handle, error) {
	exists, err := v.Exists(ctx, tld, date)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &core.AlreadyExistsError{TLD: tld, Date: date}
	}
	return &s3Handle{tld: tld, date: date}, nil
}

// Commit validates the buffered bytes and uploads them as a single object.
func (v *S3ZoneStore) Commit(ctx context.Context, handle core.Handle, sizeBytes int64, sha256Hex string) (core.ZoneSnapshot, error) {
	h, ok := handle.(*s3Handle)
	if !ok {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: handle not from this zone store")
	}
	data := h.buf.Bytes()
	if int64(len(data)) != sizeBytes {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: size mismatch: wrote %d bytes, expected %d", len(data), sizeBytes)
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != sha256Hex {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: checksum mismatch: computed %s, expected %s", got, sha256Hex)
	}

	key := v.key(h.tld, h.date)
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(v.bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ChecksumSHA256: aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return core.ZoneSnapshot{}, fmt.Errorf("uploading snapshot: %w", err)
	}

	return core.ZoneSnapshot{
		TLD:       h.tld,
		Date:      h.date,
		Path:      fmt.Sprintf("s3://%s/%s", v.bucket, key),
		SizeBytes: sizeBytes,
		SHA256:    sha256Hex,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Open streams an object's body from S3.
func (v *S3ZoneStore) Open(ctx context.Context, tld string, date core.Date) (io.ReadCloser, error) {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(tld, date)),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot not found: %s %s: %w", tld, date, err)
	}
	return out.Body, nil
}

// Exists issues a HeadObject probe.
func (v *S3ZoneStore) Exists(ctx context.Context, tld string, date core.Date) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(tld, date)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LatestBefore lists objects under the tld prefix and finds the newest date
// strictly before date. S3 has no native filter for this, so it's a linear
// scan of the (typically small, per-TLD) listing.
func (v *S3ZoneStore) LatestBefore(ctx context.Context, tld string, date core.Date) (*core.Date, error) {
	dates, err := v.listDates(ctx, tld)
	if err != nil {
		return nil, err
	}

	var best *core.Date
	for _, d := range dates {
		if d.Before(date) && (best == nil || best.Before(d)) {
			dd := d
			best = &dd
		}
	}
	return best, nil
}

// Prune deletes all but the keep most recent objects under the tld prefix.
func (v *S3ZoneStore) Prune(ctx context.Context, tld string, keep int) error {
	if keep < 2 {
		return fmt.Errorf("prune: keep must be >= 2, got %d", keep)
	}
	dates, err := v.listDates(ctx, tld)
	if err != nil {
		return err
	}
	if len(dates) <= keep {
		return nil
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for _, d := range dates[:len(dates)-keep] {
		_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(v.bucket),
			Key:    aws.String(v.key(tld, d)),
		})
		if err != nil {
			return fmt.Errorf("prune: deleting %s %s: %w", tld, d, err)
		}
	}
	return nil
}

// Quarantine copies the object to a ".bad" key and deletes the original.
func (v *S3ZoneStore) Quarantine(ctx context.Context, tld string, date core.Date) error {
	srcKey := v.key(tld, date)
	dstKey := srcKey + ".bad"
	_, err := v.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(v.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(v.bucket + "/" + srcKey),
	})
	if err != nil {
		return fmt.Errorf("quarantine: copying: %w", err)
	}
	_, err = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return fmt.Errorf("quarantine: deleting original: %w", err)
	}
	return nil
}

func (v *S3ZoneStore) tldPrefix(tld string) string {
	if v.prefix == "" {
		return tld + "/"
	}
	return v.prefix + "/" + tld + "/"
}

func (v *S3ZoneStore) listDates(ctx context.Context, tld string) ([]core.Date, error) {
	prefix := v.tldPrefix(tld)

	var dates []core.Date
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			name = strings.TrimSuffix(name, ".zone")
			t, err := time.Parse("20060102", name)
			if err != nil {
				continue
			}
			dates = append(dates, core.NewDate(t))
		}
	}
	return dates, nil
}

var _ core.ZoneStore = (*S3ZoneStore)(nil)
