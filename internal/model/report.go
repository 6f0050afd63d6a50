package model

import "strings"

// Run status values recorded alongside a report.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Report is what a finished run hands to the report and history sinks.
// Count follows the outer contract: -1 failed, 0 clean, >0 error records.
type Report struct {
	Channel      Channel       `json:"channel"`
	Window       Window        `json:"window"`
	Summary      ExportSummary `json:"summary"`
	Analysis     any           `json:"analysis,omitempty"`
	AnalysisText string        `json:"analysis_text"`
	Count        int           `json:"count"`
	Status       string        `json:"status"`
	Path         string        `json:"path,omitempty"` // set by a file sink
}

// Channel is one monitored admin endpoint.
type Channel struct {
	Key      string `json:"key" mapstructure:"key"`
	Name     string `json:"name" mapstructure:"name"`
	Code     string `json:"code,omitempty" mapstructure:"code"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base-url"`
	UserID   string `json:"-" mapstructure:"user-id"`
	Password string `json:"-" mapstructure:"password"`
	LogFile  string `json:"log_file,omitempty" mapstructure:"log-file"`
}

// ID returns the identity used for per-channel run exclusion.
func (c Channel) ID() string {
	if c.Key != "" {
		return c.Key
	}
	return c.Name
}

var channelLabels = map[string]string{
	"MA0": "Mobile App",
	"MW0": "Mobile Web",
	"HOM": "Homepage",
}

// ChannelLabel maps a channel type code to its display label. Empty codes
// render as "-" and unknown codes are returned unchanged.
func ChannelLabel(code string) string {
	if strings.TrimSpace(code) == "" {
		return "-"
	}
	if label, ok := channelLabels[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return label
	}
	return code
}
