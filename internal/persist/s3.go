package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/joho/godotenv"

	"github.com/samcharles93/checkpoint/internal/safetensors"
	"github.com/samcharles93/checkpoint/internal/weights"
)

// ErrNoCredentials is returned when the environment carries no AWS key
// pair after .env loading.
var ErrNoCredentials = errors.New("persist: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")

// s3API is the slice of the S3 client the store needs. Tests provide a
// fake; production uses *s3.Client.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, opts ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores checkpoints as objects in a bucket.
type S3 struct {
	client s3API
	bucket string
}

// NewS3 opens a bucket-backed store. Credentials come from the
// environment, with a .env file loaded first if present. The bucket
// must already exist: the constructor enumerates available buckets and
// validates membership.
func NewS3(ctx context.Context, bucket string) (*S3, error) {
	_ = godotenv.Load()
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		return nil, ErrNoCredentials
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &BackendError{Op: "load aws config", Err: err}
	}
	return newS3(ctx, s3.NewFromConfig(cfg), bucket)
}

func newS3(ctx context.Context, client s3API, bucket string) (*S3, error) {
	out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, &BackendError{Op: "list buckets", Err: err}
	}
	for _, b := range out.Buckets {
		if aws.ToString(b.Name) == bucket {
			return &S3{client: client, bucket: bucket}, nil
		}
	}
	return nil, fmt.Errorf("persist: %s is not an existing bucket", bucket)
}

// Bucket returns the collection name.
func (s *S3) Bucket() string {
	return s.bucket
}

func (s *S3) Save(ctx context.Context, m *weights.Map, step int) error {
	key := Key(step)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return &OverwriteError{Key: s.bucket + "/" + key}
	}
	if !isNotFound(err) {
		return &BackendError{Op: "head " + key, Err: err}
	}

	data, err := safetensors.Encode(m)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &BackendError{Op: "put " + key, Err: err}
	}
	return nil
}

func (s *S3) Load(ctx context.Context, key string) (*weights.Map, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &NotFoundError{Key: s.bucket + "/" + key}
		}
		return nil, &BackendError{Op: "get " + key, Err: err}
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &BackendError{Op: "read " + key, Err: err}
	}
	return safetensors.Decode(data)
}

func (s *S3) List(ctx context.Context) ([]string, error) {
	var (
		names []string
		token *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &BackendError{Op: "list " + s.bucket, Err: err}
		}
		for _, obj := range out.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return sortKeys(names), nil
}

// isNotFound reports whether an S3 error means the object is absent.
// Anything else (auth, transport, throttling) must stay a backend
// failure and never be treated as "absent".
func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
