package bridge

import (
	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/platform"
)

// Operations understood by the device shim.
const (
	OpCheckPermission   = "check_permission"
	OpRequestPermission = "request_permission"
	OpCurrentFix        = "current_fix"
	OpWatchStart        = "watch_start"
	OpWatchStop         = "watch_stop"
	OpOpenSettings      = "open_settings"
)

// Request is published to the device request topic.
type Request struct {
	RequestID  string              `json:"request_id"`
	Op         string              `json:"op"`
	Permission platform.Permission `json:"permission,omitempty"`
	Accuracy   platform.Accuracy   `json:"accuracy,omitempty"`
	TimeoutMS  int64               `json:"timeout_ms,omitempty"`
	WatchID    string              `json:"watch_id,omitempty"`
	IntervalMS int64               `json:"interval_ms,omitempty"`
	DistanceM  float64             `json:"distance_m,omitempty"`
	Target     string              `json:"target,omitempty"`
}

// Response is published by the shim to the response topic of a request.
type Response struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Grant     platform.Grant  `json:"grant,omitempty"`
	Fix       *geo.Coordinate `json:"fix,omitempty"`
	Error     string          `json:"error,omitempty"`
}
