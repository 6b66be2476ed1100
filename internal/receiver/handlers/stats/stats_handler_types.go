package stats

type StatsRequest struct {
	GameName string `form:"game_name"`
}

type BackupInfo struct {
	FileName   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	ReceivedAt string `json:"received_at"`
}

type CollectionStats struct {
	Count          int           `json:"count"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	MaxSizeBytes   int64         `json:"max_size_bytes"`
	Backend        string        `json:"backend"`
	Location       string        `json:"location"`
	DiskFreeBytes  *uint64       `json:"disk_free_bytes,omitempty"`
	Backups        []*BackupInfo `json:"backups"`
}
