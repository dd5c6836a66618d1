package model

// TaskStatus is the lifecycle of a queue entry (SendTask or ReceiveTask).
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskRetrying   TaskStatus = "retrying"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskExpired    TaskStatus = "expired"
	TaskSkipped    TaskStatus = "skipped" // receive-side dedup outcome
)

// MessageData is the serialized snapshot of the message a SendTask carries;
// it is independent of the Message row so the task survives even if the
// row is later mutated.
type MessageData struct {
	ChannelID      uint64
	ChannelType    ChannelType
	FromUID        uint64
	MessageType    string
	Content        string
	CreatedAt      int64
	LocalMessageID int64
	Extra          string
}

// SendTask is one queued outbound message.
type SendTask struct {
	TaskID         string // stringified message.id
	ID             int64  // the referenced message.id
	ChannelID      uint64
	MessageData    MessageData
	Priority       Priority
	Status         TaskStatus
	CreatedAt      int64
	RetryCount     int
	MaxRetries     int
	NextRetryAt    int64
	TimeoutAt      int64
	LastError      string
	LastFailReason string
}

// FileMessageType enumerates the attachment kinds FileSendTask supports.
type FileMessageType string

const (
	FileMessageImage    FileMessageType = "image"
	FileMessageVideo    FileMessageType = "video"
	FileMessageDocument FileMessageType = "document"
)

// FileSendTask extends SendTask with attachment metadata.
type FileSendTask struct {
	SendTask
	OriginalFilename          string
	Mime                      string
	MessageType               FileMessageType
	NeedsThumbnail            bool
	PreUploadedThumbnailFileID string
}

// ReceiveSource tags where a ReceiveTask originated.
type ReceiveSource string

const (
	SourceRealTime   ReceiveSource = "realtime"
	SourceHistorical ReceiveSource = "historical"
	SourceOffline    ReceiveSource = "offline"
	SourceReconnect  ReceiveSource = "reconnect"
)

// ReceiveTask is one ingestion entry. TaskID is the dedup key
// "recv_{server_msg_id}_{sequence_id}".
type ReceiveTask struct {
	TaskID         string
	MessageData    MessageData
	SequenceID     uint64 // = server pts
	ServerMsgID    uint64
	Source         ReceiveSource
	Status         TaskStatus
	CreatedAt      int64
	ProcessedAt    int64
	RetryCount     int
	NeedReadReceipt bool
	BatchID        string
}

// AssetsCache records the SDK version and per-migration-file mtimes so a
// launch can skip the migration directory scan when nothing changed.
type AssetsCache struct {
	SDKVersion string
	AssetsPath string
	FileMtimes map[string]int64 // filename -> unix mtime seconds
}
