package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"storyfs/internal/config"
	"storyfs/internal/story"
)

// fakeS3 is an in-memory bucket. Only the calls the vault makes for small
// objects are implemented; anything else panics through the nil embedded
// interface.
type fakeS3 struct {
	s3API

	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	bucketOK bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
		bucketOK: true,
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: f.metadata[aws.ToString(in.Key)]}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketOK {
		return nil, errors.New("forbidden")
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Vault_Snapshot(t *testing.T) {
	t.Run("round trip under prefix", func(t *testing.T) {
		fake := newFakeS3()
		v := newS3Vault("offsite", "stories", "backups", fake)

		if err := v.PutSnapshot("host-1", strings.NewReader("registry"), 8, 7); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
		if _, ok := fake.objects["backups/snapshots/host-1.db"]; !ok {
			t.Errorf("object keys = %v, want backups/snapshots/host-1.db", fake.objects)
		}

		var buf bytes.Buffer
		if err := v.GetSnapshot("host-1", &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if buf.String() != "registry" {
			t.Errorf("GetSnapshot() = %q, want registry", buf.String())
		}

		version, err := v.SnapshotVersion("host-1")
		if err != nil || version != 7 {
			t.Errorf("SnapshotVersion() = %d, %v; want 7, nil", version, err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		v := newS3Vault("offsite", "stories", "", newFakeS3())
		if err := v.PutSnapshot("host-1", strings.NewReader("abc"), 5, 1); err == nil {
			t.Error("PutSnapshot() expected size mismatch error")
		}
	})

	t.Run("missing object", func(t *testing.T) {
		v := newS3Vault("offsite", "stories", "", newFakeS3())
		var buf bytes.Buffer
		if err := v.GetSnapshot("nobody", &buf); !errors.Is(err, story.ErrNotFound) {
			t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
		}
		if version, err := v.SnapshotVersion("nobody"); err != nil || version != 0 {
			t.Errorf("SnapshotVersion() = %d, %v; want 0, nil", version, err)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		fake := newFakeS3()
		v := newS3Vault("offsite", "stories", "", fake)
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
		fake.bucketOK = false
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error for inaccessible bucket")
		}
	})
}

func TestNewS3Vault(t *testing.T) {
	v, err := NewS3Vault(context.Background(), config.VaultConfig{
		Type:        "s3",
		Name:        "minio",
		S3Bucket:    "stories",
		S3Region:    "us-east-1",
		S3Endpoint:  "http://127.0.0.1:9000",
		S3AccessKey: "minioadmin",
		S3SecretKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("NewS3Vault() error = %v", err)
	}
	if v.bucket != "stories" || v.key("h") != "snapshots/h.db" {
		t.Errorf("vault = bucket %q key %q", v.bucket, v.key("h"))
	}
}
