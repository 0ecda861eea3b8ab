package domain

import (
	"encoding/json"
	"math"
)

// Metric is a best-effort numeric field. NaN means the producer sent
// nothing usable and is encoded as JSON null.
type Metric float64

func (m Metric) Valid() bool {
	f := float64(m)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

// TelemetryReport is the producer-side metric snapshot pushed over the
// telemetry channel about once per second.
type TelemetryReport struct {
	ProducerRTT   Metric `json:"rtt_producer"`
	ConsumerRTT   Metric `json:"rtt_consumer"`
	FPSDecoding   Metric `json:"fps_decoding"`
	FPSDetection  Metric `json:"fps_detection"`
	DetectionTime Metric `json:"detection_time"`
}
