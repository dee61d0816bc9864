package provider

import (
	"math"
	"strings"
)

// Pricing is USD per 1000 tokens.
type Pricing struct {
	InputPer1k  float64
	OutputPer1k float64
}

// DefaultPricing is the fallback for models missing from a provider's
// table. It deliberately overestimates so unknown models never hide
// cost.
var DefaultPricing = Pricing{InputPer1k: 0.0025, OutputPer1k: 0.01}

var openaiPricing = map[string]Pricing{
	"gpt-4-turbo": {0.01, 0.03},
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4o-mini": {0.00015, 0.0006},
	"o1":          {0.015, 0.06},
	"o1-mini":     {0.003, 0.012},
}

var anthropicPricing = map[string]Pricing{
	"claude-3-5-sonnet": {0.003, 0.015},
	"claude-3-5-haiku":  {0.0008, 0.004},
	"claude-sonnet-4":   {0.003, 0.015},
	"claude-opus-4":     {0.015, 0.075},
}

var geminiPricing = map[string]Pricing{
	"gemini-2.0-flash": {0.0001, 0.0004},
	"gemini-1.5-pro":   {0.00125, 0.005},
	"gemini-1.5-flash": {0.000075, 0.0003},
}

// lookupPricing matches model against a table by longest key prefix, so
// dated snapshots like claude-3-5-sonnet-20241022 hit their family row.
func lookupPricing(table map[string]Pricing, model string) Pricing {
	best := ""
	for k := range table {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return DefaultPricing
	}
	return table[best]
}

// CostMicrodollars computes the price of a request in integer
// microdollars. It is computed exactly once, at request completion, and
// never recomputed on read.
func CostMicrodollars(u Usage, p Pricing) int64 {
	return int64(math.Round((float64(u.InputTokens)*p.InputPer1k + float64(u.OutputTokens)*p.OutputPer1k) * 1000))
}
