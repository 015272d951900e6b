package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartUpload(t *testing.T, metadata string, media []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("data", metadata))

	part, err := writer.CreateFormFile("file", "recording.mp3")
	require.NoError(t, err)
	_, err = part.Write(media)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestUploadRecordingHandler(t *testing.T) {
	t.Run("stores bytes then metadata", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.deviceToken(t, 5, "trap-01", 3)

		var created *NewRecording
		env.store.createRecording = func(ctx context.Context, n *NewRecording) (*Recording, error) {
			created = n
			return &Recording{ID: 7, DeviceID: n.DeviceID, ObjectKey: n.ObjectKey}, nil
		}

		body, contentType := multipartUpload(t,
			`{"recordingDateTime": "2024-05-01T10:00:00Z", "duration": 60.5}`,
			[]byte("media-bytes"))

		req := httptest.NewRequest("POST", "/api/v1/recordings", body)
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, float64(7), decodeBody(t, w)["recordingId"])

		require.NotNil(t, created)
		assert.Equal(t, int64(5), created.DeviceID)
		assert.Equal(t, 60.5, created.DurationSeconds)
		assert.Equal(t, int64(len("media-bytes")), created.SizeBytes)
		assert.Equal(t, []byte("media-bytes"), env.objects.objects[created.ObjectKey])
	})

	t.Run("missing metadata part is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.deviceToken(t, 5, "trap-01", 3)

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "recording.mp3")
		require.NoError(t, err)
		_, err = part.Write([]byte("media"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/api/v1/recordings", &buf)
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("failed metadata insert removes the stored object", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.deviceToken(t, 5, "trap-01", 3)
		env.store.createRecording = func(ctx context.Context, n *NewRecording) (*Recording, error) {
			return nil, assert.AnError
		}

		body, contentType := multipartUpload(t,
			`{"recordingDateTime": "2024-05-01T10:00:00Z", "duration": 60.5}`,
			[]byte("media-bytes"))

		req := httptest.NewRequest("POST", "/api/v1/recordings", body)
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, env.objects.objects)
	})
}
