package config

import (
	"os"
	"strconv"
	"strings"
)

// boolFieldSet reports whether the YAML document explicitly set the
// boolean at the given key path, so merging can tell "false" apart
// from "absent".
func boolFieldSet(raw map[string]any, path ...string) bool {
	var cur any = raw
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[key]
		if !ok {
			return false
		}
	}
	_, ok := cur.(bool)
	return ok
}

// applyEnv overlays LIVESERVE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LIVESERVE_ROOTS"); v != "" {
		cfg.Roots = splitList(v)
	}
	if v := os.Getenv("LIVESERVE_HOST"); v != "" {
		cfg.Host = v
	}
	if n, ok := envInt("LIVESERVE_HTTP_PORT"); ok {
		cfg.HTTPPort = n
	}
	if n, ok := envInt("LIVESERVE_WS_PORT"); ok {
		cfg.WSPort = n
	}
	if b, ok := envBool("LIVESERVE_CORS"); ok {
		cfg.CORS = b
	}
	if b, ok := envBool("LIVESERVE_LISTINGS"); ok {
		cfg.Listings = b
	}
	if b, ok := envBool("LIVESERVE_WATCH"); ok {
		cfg.Watch = b
	}
	if b, ok := envBool("LIVESERVE_METRICS"); ok {
		cfg.Metrics = b
	}
	if v := os.Getenv("LIVESERVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LIVESERVE_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if b, ok := envBool("LIVESERVE_TLS"); ok {
		cfg.TLS.Enabled = b
	}
	if v := os.Getenv("LIVESERVE_TLS_CERT"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("LIVESERVE_TLS_KEY"); v != "" {
		cfg.TLS.KeyFile = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
