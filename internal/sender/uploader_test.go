package sender

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUploader(url string) *Uploader {
	return NewUploader(&Config{
		GameName:      "valheim",
		ReceiverURL:   url,
		UploadTimeout: 5 * time.Second,
	})
}

func trackedOnDisk(t *testing.T, content string) *TrackedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.zip")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return &TrackedFile{Path: path, Size: info.Size(), ModifiedAt: info.ModTime(), Status: StatusStable}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestUploader_Success(t *testing.T) {
	var gotGame, gotName, gotBody, gotSender, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGame = r.FormValue(FormGameName)
		file, header, err := r.FormFile(FormFile)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "E_INVALID_REQUEST", "error": err.Error()})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName = header.Filename
		gotBody = string(data)
		gotSender = r.Header.Get(HeaderSenderID)
		gotAgent = r.UserAgent()

		writeJSON(w, http.StatusOK, UploadResponse{
			Status:   "success",
			GameName: gotGame,
			FileName: header.Filename,
			Size:     int64(len(data)),
			Evicted:  []string{"older.zip"},
		})
	}))
	defer srv.Close()

	f := trackedOnDisk(t, "world data")
	ack, err := newTestUploader(srv.URL+"/backup").Upload(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "valheim", gotGame)
	assert.Equal(t, "world.zip", gotName)
	assert.Equal(t, "world data", gotBody)
	assert.NotEmpty(t, gotSender)
	assert.True(t, strings.HasPrefix(gotAgent, "BackupRelay/"), gotAgent)
	assert.Equal(t, f.Size, ack.Size)
	assert.Equal(t, []string{"older.zip"}, ack.Evicted)
}

func TestUploader_ReceiverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "E_UNKNOWN_COLLECTION", "error": "unknown game: valheim"})
	}))
	defer srv.Close()

	_, err := newTestUploader(srv.URL).Upload(context.Background(), trackedOnDisk(t, "x"))

	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
	assert.Equal(t, "E_UNKNOWN_COLLECTION", upErr.Code)
	assert.Equal(t, "unknown game: valheim", upErr.Message)
	assert.True(t, upErr.Client())
}

func TestUploader_PlainTextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestUploader(srv.URL).Upload(context.Background(), trackedOnDisk(t, "x"))

	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.False(t, upErr.Client())
	assert.Contains(t, upErr.Error(), "status=500")
}

func TestUploader_AckMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, UploadResponse{Status: "success", Size: 1})
	}))
	defer srv.Close()

	_, err := newTestUploader(srv.URL).Upload(context.Background(), trackedOnDisk(t, "longer than one byte"))
	assert.ErrorIs(t, err, ErrAckMismatch)
}

func TestUploader_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestUploader(url).Upload(context.Background(), trackedOnDisk(t, "x"))
	assert.ErrorIs(t, err, ErrTransport)
}
