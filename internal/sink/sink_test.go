package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_Put(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileSink(filepath.Join(dir, "exports"))
	require.NoError(t, err)

	loc, err := fs.Put(context.Background(), "../../variants_export.csv", "text/csv", []byte("name\nBlack Galaxy\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exports", "variants_export.csv"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "name\nBlack Galaxy\n", string(data))
}

func TestFileSink_RejectsEmptyName(t *testing.T) {
	fs, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Put(context.Background(), "", "text/csv", nil)
	assert.Error(t, err)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_Put(t *testing.T) {
	fake := &fakeS3{}
	sink := NewS3Sink(fake, "catalog-exports", "/stonecat/")

	loc, err := sink.Put(context.Background(), "products_export.json", "application/json", []byte(`{"data":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "s3://catalog-exports/stonecat/products_export.json", loc)
	require.NotNil(t, fake.input)
	assert.Equal(t, "catalog-exports", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "stonecat/products_export.json", aws.ToString(fake.input.Key))
	assert.Equal(t, "application/json", aws.ToString(fake.input.ContentType))
	assert.Equal(t, `{"data":[]}`, string(fake.body))
}

func TestS3Sink_PutError(t *testing.T) {
	sink := NewS3Sink(&fakeS3{err: errors.New("access denied")}, "b", "")

	_, err := sink.Put(context.Background(), "x.csv", "text/csv", []byte("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, err.Error(), "s3://b/x.csv")
}
