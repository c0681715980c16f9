package engine

import "strings"

// modelRate holds per-1000-token prices for one model.
type modelRate struct {
	input  float64
	output float64
}

// rateTable maps normalized model identifiers to their token prices. Models
// not listed here are billed at the default rate.
var rateTable = map[string]modelRate{
	"gpt-4":                                        {input: 0.03, output: 0.06},
	"cerebras::llama-3.3-70b":                      {input: 0.0016, output: 0.0040},
	"hyperbolic::meta-llama/llama-3.3-70b-instruct": {input: 0.0016, output: 0.0040},
}

var defaultRate = modelRate{input: 0.01, output: 0.02}

// Cost computes the dollar cost of a run from its token counts and the model
// that produced it. Unknown models fall back to the default rate. Pure
// function, no I/O.
func Cost(inputTokens, outputTokens int, model string) float64 {
	rate, ok := rateTable[strings.ToLower(model)]
	if !ok {
		rate = defaultRate
	}
	return float64(inputTokens)/1000*rate.input + float64(outputTokens)/1000*rate.output
}
