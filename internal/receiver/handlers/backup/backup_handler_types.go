package backup

const (
	FormGameName   = "game_name"
	FormFile       = "file"
	HeaderSenderID = "X-Relay-Sender-Id"
)

type UploadRequest struct {
	GameName string `form:"game_name" binding:"required"`
}

type UploadResponse struct {
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	GameName   string   `json:"game_name"`
	FileName   string   `json:"filename"`
	Size       int64    `json:"size"`
	ReceivedAt string   `json:"received_at"`
	Evicted    []string `json:"evicted"`
}
