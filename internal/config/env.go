package config

import (
	"os"
	"strconv"
)

// FromEnv overlays RS_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RS_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("RS_WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("RS_WS_PATH"); v != "" {
		cfg.WSPath = v
	}
	if v := os.Getenv("RS_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("RS_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("RS_LOCATION_BUCKET"); v != "" {
		cfg.LocationBucket = v
	}
	if v := os.Getenv("RS_STATE_CACHE_DIR"); v != "" {
		cfg.StateCacheDir = v
	}
	if v := os.Getenv("RS_WRITE_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WriteBuffer = n
		}
	}
	if v := os.Getenv("RS_PING_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PingIntervalMs = n
		}
	}
	if v := os.Getenv("RS_SIGNAL_RATE_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.SignalRatePerSec = f
		}
	}
	if v := os.Getenv("RS_SIGNAL_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SignalBurst = n
		}
	}
	if v := os.Getenv("RS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
