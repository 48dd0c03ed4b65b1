package calendar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	objects map[string][]byte
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.objects[*input.Bucket+"/"+*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Bucket+"/"+*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Blob_MissingObjectIsEmpty(t *testing.T) {
	blob := NewS3Blob(newMockS3(), "clinic-data", "")
	data, err := blob.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestS3Blob_WriteThenRead(t *testing.T) {
	client := newMockS3()
	blob := NewS3Blob(client, "clinic-data", "medibook/appointments.json")
	ctx := context.Background()

	require.NoError(t, blob.Write(ctx, []byte(`[]`)))
	assert.Contains(t, client.objects, "clinic-data/medibook/appointments.json")

	data, err := blob.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}

func TestS3Blob_ReadErrorSurfaces(t *testing.T) {
	client := newMockS3()
	client.getErr = errors.New("AccessDenied")
	_, err := NewS3Blob(client, "clinic-data", "k").Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestNewS3Blob_PanicsWithoutClient(t *testing.T) {
	assert.Panics(t, func() { NewS3Blob(nil, "bucket", "key") })
}

func TestFileBlob_MissingFileIsEmpty(t *testing.T) {
	blob := NewFileBlob(filepath.Join(t.TempDir(), "absent.json"))
	data, err := blob.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileBlob_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	blob := NewFileBlob(filepath.Join(dir, "appointments.json"))
	require.NoError(t, blob.Write(context.Background(), []byte(`[]`)))
	require.NoError(t, blob.Write(context.Background(), []byte(`[{}]`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "appointments.json", entries[0].Name())
}
