package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"stressq/internal/client"
	"stressq/internal/stats"

	"github.com/rs/zerolog"
)

// TradeHeader is the column set of the trading export.
var TradeHeader = []string{"Timestamp", "Asset", "Amount", "Direction", "P&L", "Payout", "Win"}

// WriteTrades writes one CSV row per simulated order.
func WriteTrades(w io.Writer, trades []stats.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		asset, ok := t.String("asset")
		if !ok {
			asset = "N/A"
		}
		dir, ok := t.String("direction")
		if !ok {
			dir = "N/A"
		}
		amount, _ := t.Float("amount")
		pnl, _ := t.Float("simulated_profit")
		payout, ok := t.Float("payout")
		if !ok {
			payout = client.DefaultPayout
		}
		win := "NO"
		if t.Bool("win") {
			win = "YES"
		}

		record := []string{
			t.End.Format(time.RFC3339),
			asset,
			strconv.FormatFloat(amount, 'f', 2, 64),
			dir,
			strconv.FormatFloat(pnl, 'f', 2, 64),
			strconv.FormatFloat(payout, 'f', 2, 64),
			win,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportTrades writes the trading CSV to filename.
func ExportTrades(trades []stats.Result, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTrades(f, trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExportJSON writes v as indented JSON.
func ExportJSON(v any, filename string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Generator builds reports and writes the trading side export.
type Generator struct {
	// Dir receives exports. Empty disables them.
	Dir string
	Now func() time.Time
	Log zerolog.Logger
}

// Generate builds the report for snap. When the run produced trades and
// Dir is set, it also writes trading_sim_<timestamp>.csv; a failed export is
// logged and never fails the report.
func (g Generator) Generate(snap stats.Snapshot, start, end time.Time, cfg *TestConfig) Report {
	rep := Build(snap, start, end)
	rep.Summary.Config = cfg

	if rep.Trading == nil || g.Dir == "" {
		return rep
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	path := filepath.Join(g.Dir, fmt.Sprintf("trading_sim_%s.csv", now().Format("20060102_150405")))
	if err := ExportTrades(rep.Trades, path); err != nil {
		g.Log.Error().Err(err).Str("path", path).Msg("trading export failed")
		return rep
	}
	g.Log.Info().
		Str("path", path).
		Str("win_rate", fmt.Sprintf("%.1f%%", rep.Trading.WinRate*100)).
		Msg("trading export written")
	return rep
}
