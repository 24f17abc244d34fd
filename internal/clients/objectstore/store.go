// Package objectstore implements interfaces.ObjectStore against S3: an
// existence check via HeadObject, a plain upstream-image fetch over
// HTTP, and a content-typed Put. Image transcoding is an explicit
// Non-goal (spec §1), so FetchUpstream hands back the upstream bytes
// unmodified, grounded on original_source's save_image.rs head_object /
// put_object_with_content_type sequence minus its decode/re-encode step.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
)

const DefaultUpstreamTimeout = 30 * time.Second

// S3API is the subset of *s3.Client this package drives, narrowed so
// tests can supply a fake without standing up a real bucket.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store implements interfaces.ObjectStore.
type Store struct {
	s3          S3API
	bucket      string
	upstreamURL string
	httpClient  *http.Client
	logger      *common.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.httpClient = client }
}

func WithLogger(logger *common.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store. upstreamBaseURL is the vendor's public image host
// (e.g. "https://cdn.upstream.example/offers"); basenames are joined to
// it with a "/".
func New(s3Client S3API, bucket, upstreamBaseURL string, opts ...Option) *Store {
	s := &Store{
		s3:          s3Client,
		bucket:      bucket,
		upstreamURL: upstreamBaseURL,
		httpClient:  &http.Client{Timeout: DefaultUpstreamTimeout},
		logger:      common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists implements interfaces.ObjectStore via HeadObject.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", key, err)
}

// FetchUpstream implements interfaces.ObjectStore.
func (s *Store) FetchUpstream(ctx context.Context, basename string) ([]byte, error) {
	url := s.upstreamURL + "/" + basename
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream image request: %w", err)
	}

	s.logger.Info().Str("url", url).Msg("Fetching upstream image")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upstream image %s: %w", basename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream image fetch for %s returned status %d", basename, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream image body: %w", err)
	}
	return body, nil
}

// Put implements interfaces.ObjectStore.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Compile-time check
var _ interfaces.ObjectStore = (*Store)(nil)
