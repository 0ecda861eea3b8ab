package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dkeye/Viewer/internal/domain"
)

// Message types carried on the telemetry channel.
const (
	TypeRTT       = "rtt"
	TypeRTTPacket = "rtt-packet"
	TypeTelemetry = "telemetry"
)

type envelope struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type probeMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ParseReport decodes a telemetry message. It only fails when data is not
// a JSON object; every numeric field that is missing or unparseable is NaN.
func ParseReport(data []byte) (domain.TelemetryReport, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return domain.TelemetryReport{}, err
	}
	producer := parseNumber(fields["rttProducer"])
	if math.IsNaN(producer) {
		// older producers name the same value after the camera link
		producer = parseNumber(fields["rttCamera"])
	}
	return domain.TelemetryReport{
		ProducerRTT:   domain.Metric(producer),
		ConsumerRTT:   domain.Metric(parseNumber(fields["rttConsumer"])),
		FPSDecoding:   domain.Metric(parseNumber(fields["fpsDecoding"])),
		FPSDetection:  domain.Metric(parseNumber(fields["fpsDetection"])),
		DetectionTime: domain.Metric(parseNumber(fields["detectionTime"])),
	}, nil
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func parseTimestamp(raw json.RawMessage) (int64, bool) {
	f := parseNumber(raw)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}
