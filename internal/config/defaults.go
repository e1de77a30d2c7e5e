package config

const (
	defaultDataDir             = "~/.local/share/loom/data"
	defaultBlobDir             = "~/.local/share/loom/blobs"
	defaultStagingDir          = "~/.local/share/loom/staging"
	defaultLogDir              = "~/.local/share/loom/logs"
	defaultAPIBind             = "127.0.0.1:7641"
	defaultMaxFileSizeMiB      = 8192
	defaultChunkSizeMiB        = 8
	defaultSessionTTLMinutes   = 240
	defaultQueueCapacity       = 256
	defaultQueueWorkers        = 4
	defaultMaxAttempts         = 3
	defaultRetryDelaySeconds   = 2
	defaultEnqueueTimeoutSecs  = 30
	defaultSegmentSeconds      = 4.0
	defaultRequestTimeoutSecs  = 30
	defaultPollIntervalMillis  = 500
	defaultNotifyRequestTimout = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			BlobDir:    defaultBlobDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Upload: Upload{
			MaxFileSizeMiB:      defaultMaxFileSizeMiB,
			DefaultChunkSizeMiB: defaultChunkSizeMiB,
			SessionTTLMinutes:   defaultSessionTTLMinutes,
			AllowedContentTypes: []string{"video/mp4", "video/quicktime", "video/webm", "video/x-matroska"},
		},
		Queue: Queue{
			Capacity: defaultQueueCapacity,
			Workers:  defaultQueueWorkers,
		},
		Pipeline: Pipeline{
			MaxAttempts:        defaultMaxAttempts,
			RetryDelaySeconds:  defaultRetryDelaySeconds,
			EnqueueTimeoutSecs: defaultEnqueueTimeoutSecs,
		},
		Encoding: Encoding{
			SegmentSeconds: defaultSegmentSeconds,
			Profiles: []Profile{
				{Label: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 4500, AudioBitrateKbps: 128},
				{Label: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500, AudioBitrateKbps: 128},
				{Label: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1000, AudioBitrateKbps: 96},
				{Label: "360p", Width: 640, Height: 360, VideoBitrateKbps: 600, AudioBitrateKbps: 64},
			},
		},
		Services: Services{
			RequestTimeoutSeconds: defaultRequestTimeoutSecs,
			PollIntervalMillis:    defaultPollIntervalMillis,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimout,
			Uploads:        true,
			Published:      true,
			Quarantined:    true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
