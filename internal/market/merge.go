package market

// field binds one Metrics field to the first-non-zero reducer.
type field struct {
	name string
	take func(dst *Metrics, src Metrics) bool // reports whether src supplied the value
}

// mergeFields is the per-field reducer list. A value is taken only while the
// destination is still zero, so the earliest (highest priority) non-zero wins.
var mergeFields = []field{
	{"price_usd", func(d *Metrics, s Metrics) bool {
		if d.PriceUSD == 0 && s.PriceUSD != 0 {
			d.PriceUSD = s.PriceUSD
			return true
		}
		return false
	}},
	{"market_cap_usd", func(d *Metrics, s Metrics) bool {
		if d.MarketCapUSD == 0 && s.MarketCapUSD != 0 {
			d.MarketCapUSD = s.MarketCapUSD
			return true
		}
		return false
	}},
	{"holders", func(d *Metrics, s Metrics) bool {
		if d.Holders == 0 && s.Holders != 0 {
			d.Holders = s.Holders
			return true
		}
		return false
	}},
	{"volume_24h_usd", func(d *Metrics, s Metrics) bool {
		if d.Volume24hUSD == 0 && s.Volume24hUSD != 0 {
			d.Volume24hUSD = s.Volume24hUSD
			return true
		}
		return false
	}},
	{"liquidity_usd", func(d *Metrics, s Metrics) bool {
		if d.LiquidityUSD == 0 && s.LiquidityUSD != 0 {
			d.LiquidityUSD = s.LiquidityUSD
			return true
		}
		return false
	}},
	{"price_change_24h", func(d *Metrics, s Metrics) bool {
		if d.PriceChange24h == 0 && s.PriceChange24h != 0 {
			d.PriceChange24h = s.PriceChange24h
			return true
		}
		return false
	}},
}

// Merge folds partial results left to right; for each field the first
// non-zero value wins. Results must already be in priority order. Nil entries
// are skipped. Holder carry-forward is not applied here (see Collector).
func Merge(results []*Partial) Metrics {
	m, _ := mergeWithOrigins(results)
	return m
}

// mergeWithOrigins is Merge plus a map of field name to winning source.
func mergeWithOrigins(results []*Partial) (Metrics, map[string]string) {
	var out Metrics
	origins := make(map[string]string, len(mergeFields))
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, f := range mergeFields {
			if f.take(&out, r.Metrics) {
				origins[f.name] = r.Source
			}
		}
	}
	return out, origins
}

// divergence returns the largest relative spread between non-zero values
// of get across results, as a fraction of the smallest value.
func divergence(results []*Partial, get func(Metrics) float64) float64 {
	lo, hi := 0.0, 0.0
	for _, r := range results {
		if r == nil {
			continue
		}
		v := get(r.Metrics)
		if v <= 0 {
			continue
		}
		if lo == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == 0 {
		return 0
	}
	return (hi - lo) / lo
}
