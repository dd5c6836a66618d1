package privchat

import (
	"net"
	"net/http"
	"time"

	"privchat-sdk/internal/timefmt"
)

// Protocol is a transport-level wire protocol a ServerEndpoint may speak.
// The core never implements any of these itself; it only records which
// one a Transport happens to be using.
type Protocol string

const (
	ProtocolTCP       Protocol = "tcp"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolQuic      Protocol = "quic"
)

// ServerEndpoint is one entry in Config.ServerEndpoints.
type ServerEndpoint struct {
	Protocol Protocol `json:"protocol"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Path     string   `json:"path,omitempty"`
	UseTLS   bool     `json:"use_tls"`
}

// RetryConfig holds send-retry backoff settings. The SendConsumer does not
// read it: its backoff uses model.RetryBaseInterval and
// model.MaxRetryBackoff, which DefaultConfig's values repeat.
type RetryConfig struct {
	BaseInterval time.Duration `json:"base_interval_ms"`
	MaxBackoff   time.Duration `json:"max_backoff_ms"`
}

// QueueConfig governs SendQueue/ReceiveQueue capacity and batching.
type QueueConfig struct {
	SendQueueCapacity   int           `json:"send_queue_capacity"`
	SendWorkerCount     int           `json:"send_worker_count"`
	SendPollInterval    time.Duration `json:"send_poll_interval_ms"`
	ReceiveWorkerCount  int           `json:"receive_worker_count"`
	ReceivePollInterval time.Duration `json:"receive_poll_interval_ms"`
	BatchMaxSize        int           `json:"batch_max_size"`
	BatchTimeout        time.Duration `json:"batch_timeout_s"`
	TimeoutCheckInterval time.Duration `json:"timeout_check_interval_s"`
	DBTimeout           time.Duration `json:"db_timeout_s"`
}

// EventConfig governs EventBus capacity.
type EventConfig struct {
	BufferCapacity int `json:"buffer_capacity"`
}

// HTTPClientConfig governs the file-upload HTTP client.
type HTTPClientConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout_s,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout_s,omitempty"`
}

// buildClient constructs the *http.Client the file-upload uploader uses,
// applying ConnectTimeout as the dialer timeout and RequestTimeout as the
// overall per-request deadline.
func (c HTTPClientConfig) buildClient() *http.Client {
	connectTimeout := c.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	return &http.Client{Transport: transport, Timeout: requestTimeout}
}

// Config is consumed once at SDK init. It is a plain JSON-tagged struct
// with nested sub-configs grouping related fields (retry, queue, event,
// HTTP client) rather than one flat field list.
type Config struct {
	DataDir               string            `json:"data_dir"`
	AssetsDir              string            `json:"assets_dir,omitempty"`
	ServerEndpoints        []ServerEndpoint  `json:"server_endpoints"`
	ConnectionTimeout      time.Duration     `json:"connection_timeout_s"`
	HeartbeatInterval      time.Duration     `json:"heartbeat_interval_s"`
	Retry                  RetryConfig       `json:"retry_config"`
	Queue                  QueueConfig       `json:"queue_config"`
	Event                  EventConfig       `json:"event_config"`
	// TimezoneOffsetSeconds fixes the zone internal/timefmt uses to render
	// and parse display timestamps; nil falls back to the host's local
	// offset.
	TimezoneOffsetSeconds  *int              `json:"timezone_offset_seconds,omitempty"`
	DebugMode              bool              `json:"debug_mode"`
	FileAPIBaseURL         string            `json:"file_api_base_url,omitempty"`
	HTTPClient             HTTPClientConfig  `json:"http_client_config,omitempty"`
	ImageSendMaxEdge       int               `json:"image_send_max_edge,omitempty"`
}

// DefaultConfig returns a Config populated with reasonable defaults for
// retry backoff, queue sizing, and polling intervals.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		ConnectionTimeout: 30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Retry: RetryConfig{
			BaseInterval: time.Second,
			MaxBackoff:   5 * time.Minute,
		},
		Queue: QueueConfig{
			SendQueueCapacity:    10000,
			SendWorkerCount:      3,
			SendPollInterval:     200 * time.Millisecond,
			ReceiveWorkerCount:   2,
			ReceivePollInterval:  200 * time.Millisecond,
			BatchMaxSize:         50,
			BatchTimeout:         2 * time.Second,
			TimeoutCheckInterval: 5 * time.Second,
			DBTimeout:            30 * time.Second,
		},
		Event: EventConfig{BufferCapacity: 1024},
	}
}

// Timefmt builds the *timefmt.Formatter this Config describes: a fixed
// offset if TimezoneOffsetSeconds is set, otherwise the host's local
// offset.
func (c Config) Timefmt() *timefmt.Formatter {
	if c.TimezoneOffsetSeconds != nil {
		return timefmt.New(*c.TimezoneOffsetSeconds)
	}
	return timefmt.NewLocal()
}
