package storage

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory stand-in for the S3 client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(v))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func kvDrivers(t *testing.T) map[string]func(t *testing.T) KV {
	drivers := map[string]func(t *testing.T) KV{
		"memory": func(t *testing.T) KV { return NewMemory() },
		"file": func(t *testing.T) KV {
			return NewFile(filepath.Join(t.TempDir(), "slots.json"))
		},
		"redis": func(t *testing.T) KV {
			mr := miniredis.RunT(t)
			r := NewRedis(mr.Addr())
			t.Cleanup(func() { _ = r.Close() })
			return r
		},
		"s3": func(t *testing.T) KV {
			return NewS3WithClient(newFakeS3(), "accounts", "site/")
		},
	}

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		drivers["postgres"] = func(t *testing.T) KV {
			db, err := sql.Open("postgres", dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv_slots (
				key TEXT PRIMARY KEY,
				value BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`)
			require.NoError(t, err)
			_, err = db.Exec(`DELETE FROM kv_slots WHERE key LIKE 'test_%'`)
			require.NoError(t, err)
			return NewPostgres(db)
		}
	}
	return drivers
}

func TestKV_Contract(t *testing.T) {
	for name, open := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := open(t)

			v, err := kv.Get(ctx, "test_absent")
			require.NoError(t, err)
			require.Nil(t, v)

			require.NoError(t, kv.Set(ctx, "test_k", []byte(`{"a":1}`)))
			v, err = kv.Get(ctx, "test_k")
			require.NoError(t, err)
			require.JSONEq(t, `{"a":1}`, string(v))

			require.NoError(t, kv.Set(ctx, "test_k", []byte(`[1,2]`)))
			v, err = kv.Get(ctx, "test_k")
			require.NoError(t, err)
			require.JSONEq(t, `[1,2]`, string(v))

			require.NoError(t, kv.Delete(ctx, "test_k"))
			v, err = kv.Get(ctx, "test_k")
			require.NoError(t, err)
			require.Nil(t, v)

			// Deleting a missing key is not an error.
			require.NoError(t, kv.Delete(ctx, "test_k"))
		})
	}
}

func TestFile_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "slots.json")

	require.NoError(t, NewFile(path).Set(ctx, "k", []byte(`"v"`)))

	v, err := NewFile(path).Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `"v"`, string(v))
}

func TestFile_RejectsInvalidJSON(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "slots.json"))
	require.Error(t, f.Set(context.Background(), "k", []byte("not json")))
}

func TestS3_ObjectKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	kv := NewS3WithClient(fake, "bucket", "site/")

	require.NoError(t, kv.Set(ctx, "ilovexxh_users", []byte(`[]`)))
	_, ok := fake.objects["bucket/site/ilovexxh_users.json"]
	require.True(t, ok, "object stored under %v", fake.objects)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", []byte("abc")))

	v, _ := m.Get(ctx, "k")
	v[0] = 'x'

	again, _ := m.Get(ctx, "k")
	require.Equal(t, "abc", string(again))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, closer, err := Open(ctx, Options{})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, kv)
	require.NoError(t, closer.Close())

	kv, _, err = Open(ctx, Options{Driver: DriverFile, FilePath: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	require.IsType(t, &File{}, kv)

	mr := miniredis.RunT(t)
	kv, closer, err = Open(ctx, Options{Driver: DriverRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.IsType(t, &Redis{}, kv)
	require.NoError(t, closer.Close())

	_, _, err = Open(ctx, Options{Driver: DriverFile})
	require.Error(t, err)

	_, _, err = Open(ctx, Options{Driver: DriverPostgres})
	require.Error(t, err)

	_, _, err = Open(ctx, Options{Driver: "etcd"})
	require.Error(t, err)
}
