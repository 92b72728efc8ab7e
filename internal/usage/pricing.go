package usage

import "strings"

// rate is cost per 1e6 tokens for a model's input/output streams.
type rate struct {
	substring     string
	input, output float64
}

// defaultCombinedRate is used when no pricing-table entry matches the model name.
const defaultCombinedRate = 5.0 // $ per 1e6 combined tokens

// pricingTable is matched by case-insensitive substring, first match wins
// in insertion order. There is no teacher precedent for a pricing table —
// the teacher's worker owns authoritative billing and the gateway only
// records it — so these entries are a from-scratch component seeded with
// the models the spec's own worked examples reference.
var pricingTable = []rate{
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"claude-3-5-sonnet", 3.00, 15.00},
	{"claude-3-opus", 15.00, 75.00},
	{"claude-3-haiku", 0.25, 1.25},
	{"gemini-1.5-pro", 1.25, 5.00},
	{"gemini-1.5-flash", 0.075, 0.30},
}

// cost computes advisory cost for model given input/output token counts.
func cost(model string, inputTokens, outputTokens int64) float64 {
	if inputTokens == 0 && outputTokens == 0 {
		return 0
	}
	lower := strings.ToLower(model)
	for _, r := range pricingTable {
		if strings.Contains(lower, r.substring) {
			return float64(inputTokens)/1e6*r.input + float64(outputTokens)/1e6*r.output
		}
	}
	return float64(inputTokens+outputTokens) / 1e6 * defaultCombinedRate
}
