package archive

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Service implements Service against the archive's S3-like API.
type S3Service struct {
	client *s3.Client
	cfg    Config
}

var _ Service = (*S3Service)(nil)

// NewS3Service builds a client for the archive. SDK-level retries are
// disabled; callers wrap the service in Retrying instead.
func NewS3Service(ctx context.Context, cfg Config) (*S3Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithHTTPClient(cfg.HTTPClient),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return nil, &ServiceError{Op: "New", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
		// The archive rejects aws-chunked trailing checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		o.ContinueHeaderThresholdBytes = -1
		o.APIOptions = append(o.APIOptions, lowAuthorization(cfg.AccessKey, cfg.SecretKey))
	})

	return &S3Service{client: client, cfg: cfg}, nil
}

// lowAuthorization replaces the SigV4 Authorization header with the archive's
// "LOW access:secret" scheme. It runs after the signer in the finalize step.
func lowAuthorization(access, secret string) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Finalize.Add(middleware.FinalizeMiddlewareFunc("ArchiveLowAuthorization",
			func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
				if req, ok := in.Request.(*smithyhttp.Request); ok {
					req.Header.Set("Authorization", "LOW "+access+":"+secret)
				}
				return next.HandleFinalize(ctx, in)
			}), middleware.After)
	}
}

// withHeaders attaches extra request headers to a single operation.
func withHeaders(h http.Header) func(*s3.Options) {
	var fns []func(*middleware.Stack) error
	for name, values := range h {
		for _, v := range values {
			fns = append(fns, smithyhttp.AddHeaderValue(name, v))
		}
	}
	return s3.WithAPIOptions(fns...)
}

// ListFiles lists the item's files, paging with markers.
func (s *S3Service) ListFiles(ctx context.Context, identifier string) ([]string, error) {
	var (
		names  []string
		marker *string
	)
	for {
		out, err := s.client.ListObjects(ctx, &s3.ListObjectsInput{
			Bucket: aws.String(identifier),
			Marker: marker,
		})
		if err != nil {
			wrapped := wrapError("ListFiles", identifier, "", err)
			if IsNotFound(wrapped) {
				return []string{}, nil
			}
			return nil, wrapped
		}
		for _, obj := range out.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) || len(out.Contents) == 0 {
			break
		}
		next := aws.ToString(out.NextMarker)
		if next == "" {
			next = aws.ToString(out.Contents[len(out.Contents)-1].Key)
		}
		marker = aws.String(next)
	}
	return userFiles(identifier, names), nil
}

// Upload stores each file in turn. The first request creates the item.
func (s *S3Service) Upload(ctx context.Context, identifier string, files []File, md Metadata, opts UploadOptions) error {
	md = md.WithScanner(s.cfg.Scanner)
	if err := md.Validate(); err != nil {
		return &ServiceError{Op: "Upload", Identifier: identifier, Err: err}
	}

	headers := md.headers()
	headers.Set("x-archive-auto-make-bucket", "1")
	if opts.QueueDerive {
		headers.Set("x-archive-queue-derive", "1")
	} else {
		headers.Set("x-archive-queue-derive", "0")
	}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	for _, f := range files {
		if err := s.putFile(ctx, identifier, f, headers, opts.Verify); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Service) putFile(ctx context.Context, identifier string, f File, headers http.Header, verify bool) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return &ServiceError{Op: "Upload", Identifier: identifier, File: f.Name, Err: err}
	}
	defer func() { _ = fh.Close() }()

	info, err := fh.Stat()
	if err != nil {
		return &ServiceError{Op: "Upload", Identifier: identifier, File: f.Name, Err: err}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(identifier),
		Key:           aws.String(f.Name),
		Body:          fh,
		ContentLength: aws.Int64(info.Size()),
	}

	var sum string
	if verify {
		h := md5.New()
		if _, err := io.Copy(h, fh); err != nil {
			return &ServiceError{Op: "Upload", Identifier: identifier, File: f.Name, Err: err}
		}
		if _, err := fh.Seek(0, io.SeekStart); err != nil {
			return &ServiceError{Op: "Upload", Identifier: identifier, File: f.Name, Err: err}
		}
		raw := h.Sum(nil)
		sum = hex.EncodeToString(raw)
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(raw))
	}

	out, err := s.client.PutObject(ctx, input, withHeaders(headers))
	if err != nil {
		return wrapError("Upload", identifier, f.Name, err)
	}
	if verify {
		etag := strings.Trim(aws.ToString(out.ETag), `"`)
		if etag != "" && !strings.EqualFold(etag, sum) {
			return &ServiceError{
				Op:         "Upload",
				Identifier: identifier,
				File:       f.Name,
				Kind:       ErrVerifyFailed,
				Err:        fmt.Errorf("etag %s, local md5 %s", etag, sum),
			}
		}
	}
	return nil
}

// wrapError classifies SDK failures into the package's sentinel errors.
func wrapError(op, identifier, file string, err error) error {
	wrapped := &ServiceError{Op: op, Identifier: identifier, File: file, Err: err}

	var noSuchBucket *types.NoSuchBucket
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchBucket) || errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		wrapped.Kind = ErrNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			wrapped.Kind = ErrNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Kind = ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Kind = ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Kind = ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Kind = ErrUnavailable
		case "BadDigest", "InvalidDigest":
			wrapped.Kind = ErrVerifyFailed
		}
		if wrapped.Kind != nil {
			return wrapped
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatusCode() {
		case http.StatusNotFound:
			wrapped.Kind = ErrNotFound
		case http.StatusForbidden:
			wrapped.Kind = ErrAccessDenied
		case http.StatusUnauthorized:
			wrapped.Kind = ErrInvalidCredentials
		case http.StatusTooManyRequests:
			wrapped.Kind = ErrThrottled
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			wrapped.Kind = ErrUnavailable
		}
	}
	return wrapped
}
