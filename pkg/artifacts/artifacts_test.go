package artifacts

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestArtifacts_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("full locator", func(t *testing.T) {
		t.Parallel()
		p, err := Resolve("/data", Locator{UserID: "user123", SessionID: "ssssA", Name: "dataset.csv", Version: 3})
		require.NoError(t, err)
		assert.Equal(t, filepath.FromSlash("/data/user123/sessions/ssssA/artifacts/dataset.csv/versions/3/dataset.csv"), p)
	})

	t.Run("missing session", func(t *testing.T) {
		t.Parallel()
		_, err := Resolve("/data", Locator{UserID: "u", Name: "a.csv"})
		require.ErrorIs(t, err, ErrMissingLocator)
		assert.Contains(t, err.Error(), "session_id")
	})

	t.Run("missing root", func(t *testing.T) {
		t.Parallel()
		_, err := Resolve("", Locator{UserID: "u", SessionID: "s", Name: "a.csv"})
		require.ErrorIs(t, err, ErrMissingLocator)
	})
}

func TestArtifacts_ParseLocator(t *testing.T) {
	t.Parallel()

	loc, err := ParseLocator(map[string]any{
		"user_id":       "user123",
		"session_id":    "ssssA",
		"artifact_name": "dataset.csv",
		"version":       float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, Locator{UserID: "user123", SessionID: "ssssA", Name: "dataset.csv", Version: 3}, loc)

	for _, tc := range []struct {
		name string
		in   map[string]any
		key  string
	}{
		{"no version", map[string]any{"user_id": "u", "session_id": "s", "artifact_name": "a"}, "version"},
		{"blank user", map[string]any{"user_id": "  ", "session_id": "s", "artifact_name": "a", "version": 1}, "user_id"},
		{"nil name", map[string]any{"user_id": "u", "session_id": "s", "artifact_name": nil, "version": 1}, "artifact_name"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseLocator(tc.in)
			require.ErrorIs(t, err, ErrMissingLocator)
			assert.Contains(t, err.Error(), tc.key)
		})
	}

	_, err = ParseLocator(map[string]any{"user_id": "../u", "session_id": "s", "artifact_name": "a", "version": "0"})
	require.ErrorIs(t, err, ErrInvalidLocator)
}

func TestArtifacts_MimeType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "text/csv", MimeType("csv"))
	assert.Equal(t, "text/csv", MimeType(".CSV"))
	assert.Equal(t, "text/html", MimeType("htm"))
	assert.Equal(t, "application/octet-stream", MimeType("xlsx"))
	assert.Equal(t, "application/octet-stream", MimeType(""))
	assert.Equal(t, "image/png", MimeTypeForFile("chart.png"))
}

func TestArtifacts_Filename(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local))
	assert.Equal(t, "output_data_20240102_150405.csv", Filename(clock, "output_data", "csv"))
	assert.Equal(t, "similar_columns_20240102_150405.json", Filename(clock, "similar_columns", ".json"))
}

func TestArtifacts_FSSink_Save(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	sink, err := NewFSSink(FSSinkConfig{Logger: newTestLogger(), Root: root})
	require.NoError(t, err)
	ctx := t.Context()
	loc := Locator{UserID: "u1", SessionID: "s1"}

	v, err := sink.Save(ctx, loc, "out.csv", "text/csv", []byte("a,b\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	v, err = sink.Save(ctx, loc, "out.csv", "text/csv", []byte("c,d\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	p, err := Resolve(root, Locator{UserID: "u1", SessionID: "s1", Name: "out.csv", Version: 1})
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "c,d\r\n", string(data))

	_, err = sink.Save(ctx, Locator{UserID: "u1"}, "out.csv", "text/csv", nil)
	require.ErrorIs(t, err, ErrMissingLocator)
}

func TestArtifacts_FSSink_Open(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	sink, err := NewFSSink(FSSinkConfig{Logger: newTestLogger(), Root: root})
	require.NoError(t, err)
	ctx := t.Context()

	_, err = sink.Save(ctx, Locator{UserID: "u1", SessionID: "s1"}, "chart.png", "image/png", []byte("png"))
	require.NoError(t, err)

	loc := Locator{UserID: "u1", SessionID: "s1", Name: "chart.png", Version: 0}
	data, err := sink.Open(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	location, err := sink.Location(loc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "u1", "sessions", "s1", "artifacts", "chart.png", "versions", "0", "chart.png"), location)

	loc.Version = 1
	_, err = sink.Open(ctx, loc)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArtifacts_FSSink_StaysUnderRoot(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	root := filepath.Join(base, "a", "b", "root")

	sink, err := NewFSSink(FSSinkConfig{Logger: newTestLogger(), Root: root})
	require.NoError(t, err)
	ctx := t.Context()

	for _, tc := range []struct {
		name     string
		loc      Locator
		filename string
	}{
		{"user climbs out", Locator{UserID: "../../../escaped", SessionID: "default"}, "x.csv"},
		{"user is parent", Locator{UserID: "..", SessionID: "default"}, "x.csv"},
		{"session has separator", Locator{UserID: "u", SessionID: "s/../../.."}, "x.csv"},
		{"filename climbs out", Locator{UserID: "u", SessionID: "s"}, "../../../../x.csv"},
		{"filename is dot", Locator{UserID: "u", SessionID: "s"}, "."},
		{"backslash", Locator{UserID: `..\..`, SessionID: "s"}, "x.csv"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sink.Save(ctx, tc.loc, tc.filename, "text/csv", []byte("a"))
			require.ErrorIs(t, err, ErrInvalidLocator)
		})
	}

	_, err = os.Stat(filepath.Join(base, "escaped"))
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(base, "a", "b", "x.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Resolve(root, Locator{UserID: "..", SessionID: "s", Name: "x.csv"})
	require.ErrorIs(t, err, ErrInvalidLocator)
}

func TestArtifacts_ResourceURI(t *testing.T) {
	t.Parallel()

	loc := Locator{UserID: "user 1", SessionID: "s1", Name: "query_result_20240102_150405.csv", Version: 2}
	uri, err := ResourceURI(loc)
	require.NoError(t, err)
	assert.Equal(t, "mcp://resources/user%201/s1/query_result_20240102_150405.csv/versions/2", uri)

	back, err := ParseResourceURI(uri)
	require.NoError(t, err)
	assert.Equal(t, loc, back)

	for _, bad := range []string{
		"file:///etc/passwd",
		"mcp://resources/u/s/a.csv",
		"mcp://resources/u/s/a.csv/versions/x",
		"mcp://resources/%2E%2E/s/a.csv/versions/0",
		"mcp://resources/u/s/..%2F..%2Fa.csv/versions/0",
	} {
		_, err := ParseResourceURI(bad)
		require.ErrorIs(t, err, ErrInvalidLocator, bad)
	}
}

func TestArtifacts_NewFSSink_RequiresRoot(t *testing.T) {
	t.Parallel()
	_, err := NewFSSink(FSSinkConfig{Logger: newTestLogger()})
	require.ErrorIs(t, err, ErrMissingLocator)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestArtifacts_S3Sink_Save(t *testing.T) {
	t.Parallel()

	client := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	sink, err := NewS3Sink(S3SinkConfig{Logger: newTestLogger(), Client: client, Bucket: "bucket", Prefix: "/artifacts/"})
	require.NoError(t, err)
	ctx := t.Context()
	loc := Locator{UserID: "u", SessionID: "s"}

	v, err := sink.Save(ctx, loc, "out.csv", "text/csv", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	v, err = sink.Save(ctx, loc, "out.csv", "text/csv", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	key, err := sink.Key(Locator{UserID: "u", SessionID: "s", Name: "out.csv", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "artifacts/u/sessions/s/artifacts/out.csv/versions/1/out.csv", key)
	assert.Equal(t, []byte("y"), client.objects[key])
	assert.Equal(t, "text/csv", client.types[key])

	data, err := sink.Open(ctx, Locator{UserID: "u", SessionID: "s", Name: "out.csv", Version: 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	_, err = sink.Open(ctx, Locator{UserID: "u", SessionID: "s", Name: "out.csv", Version: 7})
	require.ErrorIs(t, err, ErrNotFound)

	location, err := sink.Location(Locator{UserID: "u", SessionID: "s", Name: "out.csv", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/artifacts/u/sessions/s/artifacts/out.csv/versions/1/out.csv", location)

	_, err = sink.Save(ctx, Locator{UserID: "..", SessionID: "s"}, "out.csv", "text/csv", []byte("z"))
	require.ErrorIs(t, err, ErrInvalidLocator)
	_, err = sink.Key(Locator{UserID: "u", SessionID: "s", Name: "../../out.csv"})
	require.ErrorIs(t, err, ErrInvalidLocator)
}

func TestArtifacts_NewS3Sink_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewS3Sink(S3SinkConfig{Logger: newTestLogger(), Client: &fakeS3{}})
	require.ErrorContains(t, err, "bucket is required")
}
