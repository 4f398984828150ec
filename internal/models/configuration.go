package models

// Operation is one rule of a predicate. Field defaults to "__raw".
type Operation struct {
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Test  string `json:"test" yaml:"test"`
}

// Rules holds the AND / OR / NOT-AND rule lists shared by destinations and
// custom metrics.
type Rules struct {
	And []Operation `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []Operation `json:"or,omitempty" yaml:"or,omitempty"`
	Not []Operation `json:"not,omitempty" yaml:"not,omitempty"`
}

// Connector names
const (
	ConnectorAuto         = "auto"
	ConnectorURL          = "URL"
	ConnectorLogAnalytics = "LogAnalytics"
	ConnectorAMQP         = "AMQP"
)

// Destination is the wire form of a delivery sink.
type Destination struct {
	Rules        `yaml:",inline"`
	Name         string `json:"name" yaml:"name"`
	Connector    string `json:"connector,omitempty" yaml:"connector,omitempty"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
	WorkspaceID  string `json:"workspaceId,omitempty" yaml:"workspaceId,omitempty"`
	WorkspaceKey string `json:"workspaceKey,omitempty" yaml:"workspaceKey,omitempty"`
	LogType      string `json:"logType,omitempty" yaml:"logType,omitempty"`
	Exchange     string `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	ExchangeType string `json:"exchangeType,omitempty" yaml:"exchangeType,omitempty"`
	RoutingKey   string `json:"routingKey,omitempty" yaml:"routingKey,omitempty"`
}

// MetricTemplate describes a custom metric attached to a configuration.
type MetricTemplate struct {
	Rules `yaml:",inline"`
	Name  string `json:"name" yaml:"name"`
	Node  string `json:"node,omitempty" yaml:"node,omitempty"`
}

// Configuration is the wire form of a named log source definition.
type Configuration struct {
	Enabled      *bool            `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Name         string           `json:"name" yaml:"name"`
	Targets      []string         `json:"targets,omitempty" yaml:"targets,omitempty"`
	Sources      []string         `json:"sources" yaml:"sources"`
	Breaker      string           `json:"breaker,omitempty" yaml:"breaker,omitempty"`
	Expression   string           `json:"expression,omitempty" yaml:"expression,omitempty"`
	Ignore       string           `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Fields       string           `json:"fields" yaml:"fields"`
	Destinations []Destination    `json:"destinations,omitempty" yaml:"destinations,omitempty"`
	Metrics      []MetricTemplate `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (c Configuration) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
