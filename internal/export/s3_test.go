package export

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/singcapture/internal/capture"
	"github.com/audiolibrelab/singcapture/internal/config"
)

type upload struct {
	key         string
	contentType string
	body        []byte
}

type fakeStore struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{key: *in.Key, contentType: *in.ContentType, body: body})
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.example.com/" + *in.Bucket + "/" + *in.Key + "?X-Amz-Signature=abc", Method: "GET"}, nil
}

func artifact() *capture.Artifact {
	return &capture.Artifact{
		Data:       []byte("webm bytes"),
		MIME:       "video/webm",
		Format:     "webm-vp9",
		Filename:   "My_Song.webm",
		Track:      "My Song",
		Duration:   13 * time.Second,
		StopReason: capture.StopTimer,
		SessionID:  "3f1c",
		CreatedAt:  time.Date(2026, 3, 7, 22, 15, 0, 0, time.UTC),
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"recordings", "recordings/2026/03/07/3f1c-My_Song.webm"},
		{"/nested/path/", "nested/path/2026/03/07/3f1c-My_Song.webm"},
		{"", "2026/03/07/3f1c-My_Song.webm"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, ObjectKey(test.prefix, artifact(), "3f1c"))
	}
}

func TestPublish(t *testing.T) {
	store := &fakeStore{}
	presigner := &fakePresigner{}
	p := NewPublisher(config.S3Config{Bucket: "karaoke", Prefix: "recordings"}, store, presigner)
	fixed := time.Date(2026, 3, 7, 22, 20, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	pub, err := p.Publish(context.Background(), artifact())
	require.NoError(t, err)

	assert.Equal(t, "recordings/2026/03/07/3f1c-My_Song.webm", pub.Key)
	assert.Contains(t, pub.URL, "karaoke/recordings/2026/03/07/3f1c-My_Song.webm")
	assert.Equal(t, fixed.Add(10*time.Minute), pub.ExpiresAt)
	assert.Equal(t, 10*time.Minute, presigner.expires)

	require.Len(t, store.uploads, 2)
	assert.Equal(t, "video/webm", store.uploads[0].contentType)
	assert.Equal(t, []byte("webm bytes"), store.uploads[0].body)
	assert.Equal(t, pub.Key+".yaml", store.uploads[1].key)
	assert.Contains(t, string(store.uploads[1].body), "stop_reason: timer")
}

func TestPublishErrors(t *testing.T) {
	p := NewPublisher(config.S3Config{Bucket: "karaoke", URLTTL: time.Minute}, &fakeStore{err: errors.New("access denied")}, &fakePresigner{})
	_, err := p.Publish(context.Background(), artifact())
	assert.ErrorContains(t, err, "access denied")

	_, err = p.Publish(context.Background(), &capture.Artifact{})
	assert.Error(t, err)
}

func TestNewS3PublisherRequiresBucket(t *testing.T) {
	_, err := NewS3Publisher(context.Background(), config.S3Config{})
	assert.Error(t, err)
}
