package message

import (
	"encoding/json"
	"time"
)

// TimestampFormat is ISO-8601 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// TelemetryRecord is one persisted line of /gyro telemetry.
type TelemetryRecord struct {
	Timestamp string `json:"timestamp"`
	Address   string `json:"address"`
	Args      []any  `json:"args"`
}

// NewTelemetryRecord stamps m with now (converted to UTC) and flattens its
// arguments. NaN and infinite floats become nil so the line stays valid JSON.
func NewTelemetryRecord(m ProtocolMessage, now time.Time) TelemetryRecord {
	args := m.Flatten()
	for i, v := range args {
		args[i] = jsonValue(v)
	}
	return TelemetryRecord{
		Timestamp: now.UTC().Format(TimestampFormat),
		Address:   m.Address,
		Args:      args,
	}
}

// Line returns the record as a single JSON line without the trailing newline.
func (r TelemetryRecord) Line() ([]byte, error) {
	return json.Marshal(r)
}
