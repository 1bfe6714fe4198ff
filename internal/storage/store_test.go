package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"degpredict/domain/core"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves one object per page from ListObjectsV2 to exercise pagination
type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if start < len(keys) {
		out.Contents = []types.Object{{Key: aws.String(keys[start])}}
	}
	if start+1 < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[start+1])
	}
	return out, nil
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"local":  local,
		"memory": NewMemoryStore(),
		"s3":     newS3Store(&fakeS3{objects: map[string][]byte{}}, "bucket", "runs/"),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "processed/expression.csv", []byte("gene,s1\nA,1\n")))
			require.NoError(t, s.Put(ctx, "processed/deg_results.csv", []byte("gene\n")))
			require.NoError(t, s.Put(ctx, "figures/report.html", []byte("<p>ok</p>")))

			data, err := s.Get(ctx, "processed/expression.csv")
			require.NoError(t, err)
			assert.Equal(t, "gene,s1\nA,1\n", string(data))

			ok, err := s.Exists(ctx, "figures/report.html")
			require.NoError(t, err)
			assert.True(t, ok)

			keys, err := s.List(ctx, "processed/")
			require.NoError(t, err)
			assert.Equal(t, []string{"processed/deg_results.csv", "processed/expression.csv"}, keys)

			require.NoError(t, s.Put(ctx, "processed/expression.csv", []byte("replaced")))
			data, err = s.Get(ctx, "processed/expression.csv")
			require.NoError(t, err)
			assert.Equal(t, "replaced", string(data), "put overwrites")
		})
	}
}

func TestStore_MissingKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "processed/absent.csv")
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrArtifactNotFound))
			assert.True(t, errors.Is(err, core.ErrNotFound))

			ok, err := s.Exists(ctx, "processed/absent.csv")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Put(ctx, "../outside.csv", nil))
			assert.Error(t, s.Put(ctx, "/abs.csv", nil))
			assert.Error(t, s.Put(ctx, "", nil))
		})
	}
}

func TestLocalStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "tables/summary.csv", []byte("x")))

	entries, err := os.ReadDir(filepath.Join(dir, "tables"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "summary.csv", entries[0].Name())
	assert.Equal(t, filepath.Join(dir, "tables", "summary.csv"), s.Path("tables/summary.csv"))
}

func TestS3Store_PrefixesKeys(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := newS3Store(fake, "bucket", "runs/")
	require.NoError(t, s.Put(context.Background(), "predictions/predictions.csv", []byte("x")))

	_, ok := fake.objects["runs/predictions/predictions.csv"]
	assert.True(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: "local", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, s.Provider())

	s, err = Open(ctx, Options{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, ProviderMemory, s.Provider())

	_, err = Open(ctx, Options{Driver: "tape"})
	assert.Error(t, err)
}
