package stats

import (
	"time"
)

// Kind identifies the category of a recorded operation.
type Kind string

const (
	KindConnect         Kind = "connect"
	KindBalance         Kind = "balance"
	KindCandles         Kind = "candles"
	KindPing            Kind = "ping"
	KindMarketData      Kind = "market_data"
	KindPlaceOrder      Kind = "place_order"
	KindCheckOrder      Kind = "check_order"
	KindGetOrders       Kind = "get_orders"
	KindStressConnect   Kind = "stress_connect"
	KindStressRapidPing Kind = "stress_rapid_ping"
	KindUnknown         Kind = "unknown"
)

// connection reports whether the kind measures session setup rather than
// work done on an open session.
func (k Kind) connection() bool {
	return k == KindConnect || k == KindStressConnect
}

// Result describes one completed operation attempt. It is never modified
// after NewResult returns it.
type Result struct {
	Kind     Kind           `json:"operation_type"`
	Start    time.Time      `json:"start_time"`
	End      time.Time      `json:"end_time"`
	Duration time.Duration  `json:"duration"`
	Success  bool           `json:"success"`
	Error    string         `json:"error_message,omitempty"`
	Data     map[string]any `json:"response_data,omitempty"`
}

// NewResult builds a Result. A non-empty errMsg marks the attempt as failed.
func NewResult(kind Kind, start, end time.Time, errMsg string, data map[string]any) Result {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	return Result{
		Kind:     kind,
		Start:    start,
		End:      end,
		Duration: d,
		Success:  errMsg == "",
		Error:    errMsg,
		Data:     data,
	}
}

// Float returns a numeric payload field.
func (r Result) Float(key string) (float64, bool) {
	switch v := r.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns a boolean payload field.
func (r Result) Bool(key string) bool {
	v, _ := r.Data[key].(bool)
	return v
}

// String returns a string payload field.
func (r Result) String(key string) (string, bool) {
	v, ok := r.Data[key].(string)
	return v, ok
}
