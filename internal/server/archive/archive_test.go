package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/server/config"
	"github.com/iudanet/toolsync/internal/server/storage"
	"github.com/iudanet/toolsync/internal/snapshot"
)

type putCall struct {
	metadata    map[string]string
	bucket      string
	key         string
	contentType string
	body        []byte
}

type fakePutter struct {
	err   error
	calls []putCall
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

type fakeSource struct {
	current   *models.UserSnapshot
	revisions map[int64]*models.UserSnapshot
}

func (f *fakeSource) GetCurrent(_ context.Context, _ string) (*models.UserSnapshot, error) {
	if f.current == nil {
		return nil, storage.ErrSnapshotNotFound
	}
	return f.current, nil
}

func (f *fakeSource) GetAtRevision(_ context.Context, _ string, revision int64) (*models.UserSnapshot, error) {
	snap, ok := f.revisions[revision]
	if !ok {
		return nil, storage.ErrRevisionNotFound
	}
	return snap, nil
}

func mustSnapshot(t *testing.T, raw string) snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.ParseSnapshot([]byte(raw))
	require.NoError(t, err)
	return s
}

func TestArchiveRevision(t *testing.T) {
	first := &models.UserSnapshot{UserID: "alice", ServerRevision: 1, UpdatedAtMs: 100, ToolsData: mustSnapshot(t, `{"notes":{"b":1,"a":"é"}}`)}
	second := &models.UserSnapshot{UserID: "alice", ServerRevision: 2, UpdatedAtMs: 200, ToolsData: mustSnapshot(t, `{"notes":{"a":2}}`)}
	source := &fakeSource{current: second, revisions: map[int64]*models.UserSnapshot{1: first, 2: second}}

	tests := []struct {
		name     string
		wantBody string
		revision int64
		wantRev  int64
	}{
		{name: "explicit revision", revision: 1, wantRev: 1, wantBody: `{"notes":{"a":"é","b":1}}`},
		{name: "current revision", revision: 0, wantRev: 2, wantBody: `{"notes":{"a":2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			putter := &fakePutter{}
			a := NewArchiver(slog.New(slog.NewTextHandler(io.Discard, nil)), source, putter, "backups")

			res, err := a.ArchiveRevision(context.Background(), " alice ", tt.revision)
			require.NoError(t, err)
			require.Len(t, putter.calls, 1)

			call := putter.calls[0]
			assert.Equal(t, "backups", call.bucket)
			assert.Equal(t, "application/json", call.contentType)
			assert.Equal(t, tt.wantBody, string(call.body))

			sum := snapshot.HashSnapshot(mustSnapshot(t, tt.wantBody))
			assert.Equal(t, ObjectKey("alice", tt.wantRev, sum), call.key)
			assert.Equal(t, sum, call.metadata["sha256"])
			assert.Equal(t, "alice", call.metadata["user-id"])

			assert.Equal(t, tt.wantRev, res.Revision)
			assert.Equal(t, call.key, res.Key)
			assert.Equal(t, len(call.body), res.Size)
		})
	}
}

func TestArchiveRevision_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &fakeSource{revisions: map[int64]*models.UserSnapshot{}}

	_, err := NewArchiver(logger, source, &fakePutter{}, "b").ArchiveRevision(context.Background(), "alice", 3)
	assert.ErrorIs(t, err, storage.ErrRevisionNotFound)

	_, err = NewArchiver(logger, source, &fakePutter{}, "b").ArchiveRevision(context.Background(), "alice", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = NewArchiver(logger, source, &fakePutter{}, "b").ArchiveRevision(context.Background(), "alice", -1)
	assert.Error(t, err)

	_, err = NewArchiver(logger, source, &fakePutter{}, "b").ArchiveRevision(context.Background(), "", 1)
	assert.Error(t, err)

	source.revisions[1] = &models.UserSnapshot{UserID: "alice", ServerRevision: 1, ToolsData: snapshot.Snapshot{}}
	uploadErr := errors.New("access denied")
	_, err = NewArchiver(logger, source, &fakePutter{err: uploadErr}, "b").ArchiveRevision(context.Background(), "alice", 1)
	assert.ErrorIs(t, err, uploadErr)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "users/alice/revisions/7-abc.json", ObjectKey("alice", 7, "abc"))
	assert.Equal(t, "users/a%2Fb/revisions/1-ff.json", ObjectKey("a/b", 1, "ff"))
}

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), config.ArchiveConfig{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio-secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minio", creds.AccessKeyID)
}
