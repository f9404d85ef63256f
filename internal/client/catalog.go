package client

import (
	"sort"
)

// DefaultPayout applies to assets without a listed payout.
const DefaultPayout = 0.8

type Asset struct {
	ID     int
	Payout float64
}

// Assets is the instrument catalog used for randomized requests.
var Assets = map[string]Asset{
	"AUDCAD":      {ID: 42},
	"AUDJPY":      {ID: 41},
	"AUDUSD":      {ID: 40},
	"EURGBP":      {ID: 47},
	"EURJPY":      {ID: 6},
	"EURUSD":      {ID: 1},
	"GBPJPY":      {ID: 57},
	"GBPUSD":      {ID: 56},
	"NZDUSD":      {ID: 90},
	"USDCAD":      {ID: 61},
	"USDCHF":      {ID: 62},
	"USDJPY":      {ID: 63},
	"USDBRL":      {ID: 97},
	"AUDCAD_otc":  {ID: 67, Payout: 0.92},
	"AUDUSD_otc":  {ID: 71, Payout: 0.9},
	"EURJPY_otc":  {ID: 79, Payout: 0.88},
	"EURUSD_otc":  {ID: 66, Payout: 0.92},
	"GBPUSD_otc":  {ID: 86, Payout: 0.9},
	"USDJPY_otc":  {ID: 93, Payout: 0.85},
	"USDBRL_otc":  {ID: 502, Payout: 0.85},
	"USDINR_otc":  {ID: 202},
	"XAUUSD_otc":  {ID: 169, Payout: 0.82},
	"XAGUSD_otc":  {ID: 167},
	"UKBrent_otc": {ID: 164},
	"USCrude_otc": {ID: 165},
}

// Timeframes maps labels to bar sizes in seconds.
var Timeframes = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
	"1w":  604800,
}

var (
	assetNames = sortedKeys(Assets)
	timeframes = sortedValues(Timeframes)
)

// AssetNames returns the catalog symbols in stable order.
func AssetNames() []string { return assetNames }

// TimeframeSeconds returns the catalog bar sizes in ascending order.
func TimeframeSeconds() []int { return timeframes }

func Payout(asset string) float64 {
	if a, ok := Assets[asset]; ok && a.Payout > 0 {
		return a.Payout
	}
	return DefaultPayout
}

func KnownAsset(asset string) bool {
	_, ok := Assets[asset]
	return ok
}

func sortedKeys(m map[string]Asset) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedValues(m map[string]int) []int {
	vals := make([]int, 0, len(m))
	for _, v := range m {
		vals = append(vals, v)
	}
	sort.Ints(vals)
	return vals
}
