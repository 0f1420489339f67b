package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-xray-sdk-go/xray"

	"github.com/kivikakk/recogedor/lalog"
	"github.com/kivikakk/recogedor/script"
)

// S3Store is a destination endpoint that archives messages as objects in
// an S3 bucket rather than appending them to a mailbox. Grounded on
// awsinteg/s3.go: an xray-instrumented S3 client plus a managed uploader.
type S3Store struct {
	Bucket    string
	KeyPrefix string

	logger   lalog.Logger
	uploader *s3manager.Uploader
}

// NewS3Store builds a store for bucket, deriving the AWS session from the
// environment the way awsinteg.NewS3Client does (region from
// AWS_REGION, credentials from the default provider chain).
func NewS3Store(region, bucket, keyPrefix string) (*S3Store, error) {
	if region == "" {
		return nil, fmt.Errorf("endpoint: AWS region is required to construct an S3Store")
	}
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	client := s3.New(apiSession)
	xray.AWS(client.Client)
	return &S3Store{
		Bucket:    bucket,
		KeyPrefix: keyPrefix,
		logger:    lalog.Logger{ComponentName: "endpoint.s3", ComponentID: []lalog.LoggerIDField{{Key: "Bucket", Value: bucket}}},
		uploader:  s3manager.NewUploaderWithClient(client),
	}, nil
}

// OpenWriter implements script.Endpoint. S3 has no per-destination
// session to open, so the writer is ready immediately.
func (s *S3Store) OpenWriter(ctx context.Context) (script.Writer, error) {
	return &s3Writer{store: s}, nil
}

type s3Writer struct {
	store *S3Store
}

// Append implements script.Writer by uploading the message's raw body as
// an object keyed by the store's prefix and the message UID.
func (w *s3Writer) Append(ctx context.Context, msg script.Message) error {
	body, ok := msg.(interface{ RawBody() []byte })
	if !ok {
		return fmt.Errorf("endpoint: message does not expose a raw body to upload")
	}
	key := fmt.Sprintf("%s%d", w.store.KeyPrefix, msg.UID())
	start := time.Now()
	_, err := w.store.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(w.store.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body.RawBody()),
	})
	w.store.logger.Info(key, err, "uploaded in %s", time.Since(start))
	return err
}

// Disconnect is a no-op: the SDK client owns no long-lived session. The
// destination slot is still allocated lazily and disconnected in order
// along with IMAP writers by the closure, so the closure's uniform
// lazy-open/disconnect handling never needs to know which kind of
// endpoint a destination name resolved to.
func (w *s3Writer) Disconnect(ctx context.Context) error { return nil }
