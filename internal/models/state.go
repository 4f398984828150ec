package models

// Checkpoint is the persisted form of a (file, destination) cursor.
type Checkpoint struct {
	Destination string `json:"destination"`
	Path        string `json:"path"`
	Ino         uint64 `json:"ino,omitempty"`
	Committed   int64  `json:"committed,omitempty"`
	Buffered    int64  `json:"buffered,omitempty"`
}

// DataPoint is a single minute bucket. TS uses the "2006-01-02T15:04" layout.
type DataPoint struct {
	TS string `json:"ts"`
	V  int64  `json:"v"`
}

// Metric is the persisted and reported form of a time series.
type Metric struct {
	Rules   `yaml:",inline"`
	Name    string      `json:"name"`
	Node    string      `json:"node,omitempty"`
	Config  string      `json:"config,omitempty"`
	File    string      `json:"file,omitempty"`
	Counter int64       `json:"counter,omitempty"`
	Entries []DataPoint `json:"entries,omitempty"`
}

// MetricsMessage is what a dispatcher posts to the controller. Code is an
// opaque token that lets the controller ignore a retransmitted message.
type MetricsMessage struct {
	Code    string   `json:"code"`
	Metrics []Metric `json:"metrics"`
}

// Event is a notable occurrence on a node.
type Event struct {
	TS        string `json:"ts"`
	Type      string `json:"type"`
	Node      string `json:"node"`
	Msg       string `json:"msg"`
	Config    string `json:"config,omitempty"`
	Committed bool   `json:"committed,omitempty"`
}
