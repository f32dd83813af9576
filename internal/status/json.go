package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/thermo-node/internal/mqtt"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Healthy       bool              `json:"healthy"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	Link          LinkJSON          `json:"link"`
	MQTT          MQTTStatus        `json:"mqtt"`
	LED           string            `json:"led"`
	Sensors       []SensorJSON      `json:"sensors"`
	Queue         QueueJSON         `json:"queue"`
	Workers       map[string]string `json:"workers"`
	Config        ConfigJSON        `json:"config"`
}

// LinkJSON reports connectivity.
type LinkJSON struct {
	State     string `json:"state"`
	Interface string `json:"interface"`
	IP        string `json:"ip,omitempty"`
}

// MQTTStatus reports session state and publish counters.
type MQTTStatus struct {
	State     string `json:"state"`
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// SensorJSON is one sensor's latest raw read.
type SensorJSON struct {
	Index    int      `json:"index"`
	Address  string   `json:"address"`
	Topic    string   `json:"topic"`
	Celsius  *float64 `json:"celsius,omitempty"`
	ReadAt   string   `json:"read_at,omitempty"`
	Error    string   `json:"error,omitempty"`
	Reads    int      `json:"reads"`
	Failures int      `json:"failures"`
}

// QueueJSON describes the reading queue.
type QueueJSON struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Drops    uint64 `json:"drops"`
}

// ConfigJSON is the JSON representation of node config.
type ConfigJSON struct {
	TopicPrefix      string `json:"topic_prefix"`
	Resolution       int    `json:"resolution_bits"`
	SettleMs         int64  `json:"settle_ms"`
	IntervalMs       int64  `json:"update_interval_ms"`
	ReconnectDelayMs int64  `json:"reconnect_delay_ms"`
	HTTPAddr         string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	topics := mqtt.Topics{Prefix: snap.Config.TopicPrefix}
	sensors := make([]SensorJSON, 0, len(snap.Sensors))
	for _, s := range snap.Sensors {
		sj := SensorJSON{
			Index:    s.Index,
			Address:  s.Address,
			Topic:    topics.Temperature(s.Index),
			Error:    s.Err,
			Reads:    s.Reads,
			Failures: s.Errors,
		}
		if !s.Time.IsZero() {
			v := s.Value
			sj.Celsius = &v
			sj.ReadAt = s.Time.UTC().Format(time.RFC3339)
		}
		sensors = append(sensors, sj)
	}

	return StatusInner{
		Healthy:       snap.Healthy(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Link: LinkJSON{
			State:     snap.Link,
			Interface: snap.Config.Interface,
			IP:        snap.Addr,
		},
		MQTT: MQTTStatus{
			State:     snap.Session,
			Broker:    snap.Config.Broker,
			ClientID:  snap.Config.ClientID,
			Published: snap.Publish.Published,
			Failed:    snap.Publish.Failed,
			Dropped:   snap.Publish.Dropped,
		},
		LED:     snap.LED,
		Sensors: sensors,
		Queue: QueueJSON{
			Depth:    snap.Queue.Depth,
			Capacity: snap.Queue.Capacity,
			Drops:    snap.Queue.Drops,
		},
		Workers: snap.Workers,
		Config: ConfigJSON{
			TopicPrefix:      snap.Config.TopicPrefix,
			Resolution:       snap.Config.Resolution,
			SettleMs:         snap.Config.SettleMs,
			IntervalMs:       snap.Config.IntervalMs,
			ReconnectDelayMs: snap.Config.ReconnectDelayMs,
			HTTPAddr:         snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
