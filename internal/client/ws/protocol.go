// Package ws implements the client capability set over a websocket using a
// small JSON request/response envelope. The stand-in service in
// internal/dummy speaks the same envelope.
package ws

import (
	"stressq/internal/client"
)

const (
	OpAuth    = "auth"
	OpBalance = "balance"
	OpCandles = "candles"
	OpOrder   = "order"
)

// Envelope carries both requests and responses. Responses echo the request
// ID; frames without an ID are unsolicited messages.
type Envelope struct {
	ID string `json:"id,omitempty"`
	Op string `json:"op,omitempty"`

	SSID string `json:"ssid,omitempty"`
	Demo bool   `json:"demo,omitempty"`

	Asset     string           `json:"asset,omitempty"`
	Timeframe int              `json:"timeframe,omitempty"`
	Count     int              `json:"count,omitempty"`
	Amount    float64          `json:"amount,omitempty"`
	Direction client.Direction `json:"direction,omitempty"`
	Duration  int              `json:"duration,omitempty"`

	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Balance *client.Balance `json:"balance,omitempty"`
	Candles []client.Candle `json:"candles,omitempty"`
	Order   *client.Order   `json:"order,omitempty"`
}
