package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory s3API. Objects are keyed bucket-wide; the
// store only ever talks to one bucket.
type fakeS3 struct {
	buckets  []string
	objects  map[string][]byte
	headErr  error
	putErr   error
	getErr   error
	listErr  error
	pageSize int
}

func newFakeS3(buckets ...string) *fakeS3 {
	return &fakeS3{
		buckets: buckets,
		objects: make(map[string][]byte),
	}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListBuckets(ctx context.Context, in *s3.ListBucketsInput, opts ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3.ListBucketsOutput{}
	for _, b := range f.buckets {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(b)})
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		_, _ = fmt.Sscanf(aws.ToString(in.ContinuationToken), "%d", &start)
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func newTestS3(t *testing.T, client s3API) *S3 {
	t.Helper()
	store, err := newS3(context.Background(), client, "checkpoints")
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	return store
}

func TestS3SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestS3(t, newFakeS3("checkpoints"))
	ctx := context.Background()
	m := testMapping(t)

	if err := store.Save(ctx, m, 2500); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, "2500.safetensors")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.Equal(got) {
		t.Fatal("loaded mapping diverged from saved")
	}
}

func TestS3OverwriteProtection(t *testing.T) {
	t.Parallel()

	client := newFakeS3("checkpoints")
	store := newTestS3(t, client)
	ctx := context.Background()
	m := testMapping(t)

	if err := store.Save(ctx, m, 100); err != nil {
		t.Fatalf("first save: %v", err)
	}
	original := client.objects["100.safetensors"]

	err := store.Save(ctx, m, 100)
	var overwrite *OverwriteError
	if !errors.As(err, &overwrite) {
		t.Fatalf("expected OverwriteError, got %v", err)
	}
	if !bytes.Equal(client.objects["100.safetensors"], original) {
		t.Fatal("original object was modified by rejected save")
	}
}

func TestS3ExistenceCheckFailureBlocksSave(t *testing.T) {
	t.Parallel()

	client := newFakeS3("checkpoints")
	client.headErr = errors.New("connection reset")
	store := newTestS3(t, client)

	err := store.Save(context.Background(), testMapping(t), 100)
	var backend *BackendError
	if !errors.As(err, &backend) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if len(client.objects) != 0 {
		t.Fatal("save proceeded despite failed existence check")
	}
}

func TestS3LoadMissing(t *testing.T) {
	t.Parallel()

	store := newTestS3(t, newFakeS3("checkpoints"))
	_, err := store.Load(context.Background(), "42.safetensors")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestS3BucketValidation(t *testing.T) {
	t.Parallel()

	_, err := newS3(context.Background(), newFakeS3("other"), "checkpoints")
	if err == nil {
		t.Fatal("expected missing-bucket error")
	}
}

func TestS3ListPaginates(t *testing.T) {
	t.Parallel()

	client := newFakeS3("checkpoints")
	client.pageSize = 2
	store := newTestS3(t, client)
	ctx := context.Background()
	m := testMapping(t)

	for _, step := range []int{300, 100, 500, 200, 400} {
		if err := store.Save(ctx, m, step); err != nil {
			t.Fatalf("save %d: %v", step, err)
		}
	}

	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"100.safetensors", "200.safetensors", "300.safetensors", "400.safetensors", "500.safetensors"}
	if len(keys) != len(want) {
		t.Fatalf("keys: got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys: got %v, want %v", keys, want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	if !isNotFound(&types.NotFound{}) || !isNotFound(&types.NoSuchKey{}) {
		t.Fatal("typed absence errors not classified")
	}
	if isNotFound(errors.New("throttled")) {
		t.Fatal("generic error classified as absent")
	}
	if isNotFound(nil) {
		t.Fatal("nil classified as absent")
	}
}
