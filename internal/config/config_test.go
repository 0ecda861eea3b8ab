package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SignalingPath != "/viewonly" || cfg.ChannelLabel != "chat" || cfg.NegotiationMode != "gathering" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProbeInterval != time.Second || cfg.TeardownGrace != 500*time.Millisecond || cfg.PhotoPollInterval != time.Second {
		t.Errorf("unexpected durations: probe=%s grace=%s poll=%s", cfg.ProbeInterval, cfg.TeardownGrace, cfg.PhotoPollInterval)
	}
	if cfg.MaxBitrate != 40000000 || cfg.SDPPatch {
		t.Errorf("unexpected sdp defaults: bitrate=%d patch=%v", cfg.MaxBitrate, cfg.SDPPatch)
	}
}

func TestFileValues(t *testing.T) {
	path := writeConfig(t, `
mode: debug
listen: ":9000"
signaling_url: "http://producer:8080"
negotiation_mode: minimal
sdp_patch: true
max_bitrate: 1000
photo_poll_interval: 0s
ice_servers:
  - stun:stun.l.google.com:19302
allowed_codecs: [video/VP8]
auto_connect: [live, test]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "debug" || cfg.Listen != ":9000" || cfg.SignalingURL != "http://producer:8080" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.NegotiationMode != "minimal" || !cfg.SDPPatch || cfg.MaxBitrate != 1000 {
		t.Errorf("negotiation = %s patch=%v bitrate=%d", cfg.NegotiationMode, cfg.SDPPatch, cfg.MaxBitrate)
	}
	if cfg.PhotoPollInterval != 0 {
		t.Errorf("poll interval = %s", cfg.PhotoPollInterval)
	}
	if len(cfg.ICEServers) != 1 || len(cfg.AllowedCodecs) != 1 || len(cfg.AutoConnect) != 2 {
		t.Errorf("lists = %v %v %v", cfg.ICEServers, cfg.AllowedCodecs, cfg.AutoConnect)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, "channel_label: file\n")
	t.Setenv("VIEWER_CHANNEL_LABEL", "env")
	t.Setenv("VIEWER_TEARDOWN_GRACE", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ChannelLabel != "env" {
		t.Errorf("channel_label = %q, want env", cfg.ChannelLabel)
	}
	if cfg.TeardownGrace != 2*time.Second {
		t.Errorf("teardown_grace = %s", cfg.TeardownGrace)
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "signaling_url: \"\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty signaling_url")
	}
	path = writeConfig(t, "max_bitrate: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative bitrate")
	}
}
