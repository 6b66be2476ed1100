package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req/v3"
	"github.com/openmined/backuprelay/internal/utils"
	"github.com/openmined/backuprelay/internal/version"
)

const (
	FormGameName   = "game_name"
	FormFile       = "file"
	HeaderSenderID = "X-Relay-Sender-Id"
)

var (
	// ErrTransport wraps connection refused, timeouts, resets and the like
	ErrTransport = errors.New("transport error")
	// ErrAckMismatch means the receiver acknowledged a different size than was sent
	ErrAckMismatch = errors.New("receiver acknowledged a different size")
)

// UploadResponse is the receiver's acknowledgement of POST /backup
type UploadResponse struct {
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	GameName   string   `json:"game_name"`
	FileName   string   `json:"filename"`
	Size       int64    `json:"size"`
	ReceivedAt string   `json:"received_at"`
	Evicted    []string `json:"evicted"`
}

// UploadError is a non-success HTTP response from the receiver
type UploadError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *UploadError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("receiver error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("receiver error: status=%d message=%s", e.StatusCode, e.Message)
}

// Client reports whether the receiver rejected the request itself (4xx).
// Such files are still retried: the rejection is usually configuration on the
// receiver side (unknown collection) that an operator fixes without touching the sender.
func (e *UploadError) Client() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// FileUploader sends one file to the receiver
type FileUploader interface {
	Upload(ctx context.Context, f *TrackedFile) (*UploadResponse, error)
}

// Uploader posts files to the receiver's /backup endpoint
type Uploader struct {
	client   *req.Client
	url      string
	gameName string
}

func NewUploader(cfg *Config) *Uploader {
	client := req.C().
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderSenderID, utils.MachineID(strings.ToLower(version.AppName))).
		SetTimeout(cfg.UploadTimeout).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Uploader{
		client:   client,
		url:      cfg.ReceiverURL,
		gameName: cfg.GameName,
	}
}

// Upload makes exactly one attempt; retries are the engine's business, one per cycle.
func (u *Uploader) Upload(ctx context.Context, f *TrackedFile) (*UploadResponse, error) {
	var ack UploadResponse
	var apiErr UploadError

	resp, err := u.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetFormData(map[string]string{FormGameName: u.gameName}).
		SetFile(FormFile, f.Path).
		SetSuccessResult(&ack).
		SetErrorResult(&apiErr).
		Post(u.url)
	if err != nil {
		// a body that does not decode still carries a usable status
		if resp == nil || resp.Response == nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if resp.IsSuccessState() {
			return nil, fmt.Errorf("decode ack: %w", err)
		}
	}

	if !resp.IsSuccessState() {
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &apiErr
	}

	if ack.Size != f.Size {
		return nil, fmt.Errorf("%w: sent %d bytes, acknowledged %d", ErrAckMismatch, f.Size, ack.Size)
	}

	return &ack, nil
}
