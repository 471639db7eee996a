package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"classdesk/api/internal/schema"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
)

// ObjectConfig describes an S3-compatible bucket holding one object per
// identity.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	// Listen uses MinIO bucket notifications. Plain S3 has no equivalent, so
	// without it the store polls the object's ETag every PollInterval.
	Listen       bool
	PollInterval time.Duration
}

type ObjectStore struct {
	client *minio.Client
	cfg    ObjectConfig
	logger *slog.Logger
}

// NewObjectStore connects to the endpoint and creates the bucket if missing.
func NewObjectStore(ctx context.Context, cfg ObjectConfig, logger *slog.Logger) (*ObjectStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *ObjectStore) objectName(id string) string {
	return "documents/" + id + ".json"
}

func (s *ObjectStore) ReadOnce(ctx context.Context, id string) (schema.Partial, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	snap, _, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, ErrNotFound
	}
	return snap.Doc, nil
}

// read returns the current snapshot and the object's ETag.
func (s *ObjectStore) read(ctx context.Context, id string) (Snapshot, string, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectName(id), minio.GetObjectOptions{})
	if err != nil {
		return Snapshot{}, "", unavailable("read", err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return Snapshot{}, "", nil
		}
		return Snapshot{}, "", unavailable("read", err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return Snapshot{}, "", nil
		}
		return Snapshot{}, "", unavailable("read", err)
	}
	snap, err := decode(data)
	if err != nil {
		s.logger.Warn("object document unparseable", "id", id, "error", err)
	}
	return snap, info.ETag, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *ObjectStore) WriteWhole(ctx context.Context, id string, doc schema.Document) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.objectName(id), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return unavailable("write", err)
	}
	return nil
}

func (s *ObjectStore) Subscribe(ctx context.Context, id string, onChange func(Snapshot)) (Unsubscribe, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var events <-chan notification.Info
	sub, subCtx := newSubscription(ctx)
	if s.cfg.Listen {
		events = s.client.ListenBucketNotification(subCtx, s.cfg.Bucket, "documents/"+id, ".json", []string{
			"s3:ObjectCreated:*",
			"s3:ObjectRemoved:*",
		})
	}
	initial, etag, err := s.read(ctx, id)
	if err != nil {
		sub.cancel()
		return nil, err
	}

	go func() {
		defer close(sub.done)
		onChange(initial)
		if events != nil {
			if s.listen(subCtx, id, events, onChange) {
				return
			}
			s.logger.Warn("object notifications unavailable, polling", "id", id, "interval", s.cfg.PollInterval)
		}
		s.poll(subCtx, id, etag, onChange)
	}()
	return sub.stop, nil
}

// listen relays bucket notifications for the identity's object. It returns
// true when ctx ended and false when the notification stream failed.
func (s *ObjectStore) listen(ctx context.Context, id string, events <-chan notification.Info, onChange func(Snapshot)) bool {
	name := s.objectName(id)
	for {
		select {
		case <-ctx.Done():
			return true
		case info, ok := <-events:
			if !ok {
				return ctx.Err() != nil
			}
			if info.Err != nil {
				s.logger.Warn("object notification error", "id", id, "error", info.Err)
				return false
			}
			for _, record := range info.Records {
				key, err := url.QueryUnescape(record.S3.Object.Key)
				if err != nil {
					key = record.S3.Object.Key
				}
				if key != name {
					continue
				}
				snap, _, err := s.read(ctx, id)
				if ctx.Err() != nil {
					return true
				}
				if err != nil {
					s.logger.Warn("object reread failed", "id", id, "error", err)
					continue
				}
				onChange(snap)
			}
		}
	}
}

func (s *ObjectStore) poll(ctx context.Context, id, etag string, onChange func(Snapshot)) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := s.client.StatObject(ctx, s.cfg.Bucket, s.objectName(id), minio.StatObjectOptions{})
			current := info.ETag
			if err != nil {
				if !isNoSuchKey(err) {
					if ctx.Err() == nil {
						s.logger.Warn("object poll failed", "id", id, "error", err)
					}
					continue
				}
				current = ""
			}
			if current == etag {
				continue
			}
			snap, readETag, err := s.read(ctx, id)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Warn("object reread failed", "id", id, "error", err)
				continue
			}
			etag = readETag
			onChange(snap)
		}
	}
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.cfg.Bucket); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *ObjectStore) Close() error { return nil }
