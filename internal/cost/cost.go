// Package cost estimates the USD cost of upstream exchanges from token
// counts. Estimates feed the metrics snapshot and the request log; they are
// informational only, not billing.
package cost

import (
	"strings"
	"sync"

	"github.com/modelgate/modelgate/internal/config"
)

// Calculator resolves per-model prices and computes request cost. Prices are
// USD per one million tokens; config overrides shadow the built-in table.
type Calculator struct {
	mu     sync.RWMutex
	prices map[string]config.ModelPrice
}

// NewCalculator builds a calculator from the built-in table plus overrides.
func NewCalculator(overrides map[string]config.ModelPrice) *Calculator {
	c := &Calculator{}
	c.UpdatePrices(overrides)
	return c
}

// UpdatePrices rebuilds the price table from the built-ins plus overrides.
// Called on config hot-reload.
func (c *Calculator) UpdatePrices(overrides map[string]config.ModelPrice) {
	prices := builtinPrices()
	for model, price := range overrides {
		prices[model] = price
	}
	c.mu.Lock()
	c.prices = prices
	c.mu.Unlock()
}

// Calculate returns the estimated USD cost for one exchange, or false when
// the model has no known price. Lookup tries the exact model id first, then
// the id with any provider prefix stripped ("openai/gpt-4o" matches
// "gpt-4o").
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int64) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[model]
	if !ok {
		if idx := strings.LastIndex(model, "/"); idx >= 0 {
			price, ok = c.prices[model[idx+1:]]
		}
	}
	if !ok {
		return 0, false
	}
	inputCost := float64(inputTokens) / 1e6 * price.Input
	outputCost := float64(outputTokens) / 1e6 * price.Output
	return inputCost + outputCost, true
}

// builtinPrices is the USD-per-1M-token table for common public models,
// current as of early 2026. Config model-prices entries override these.
func builtinPrices() map[string]config.ModelPrice {
	return map[string]config.ModelPrice{
		// Claude 4.x aliases
		"claude-opus-4-6":   {Input: 15.0, Output: 75.0},
		"claude-sonnet-4-6": {Input: 3.0, Output: 15.0},
		"claude-opus-4-5":   {Input: 15.0, Output: 75.0},
		"claude-sonnet-4-5": {Input: 3.0, Output: 15.0},
		"claude-haiku-4-5":  {Input: 0.80, Output: 4.0},
		// Claude 4.x dated versions
		"claude-opus-4-20250514":     {Input: 15.0, Output: 75.0},
		"claude-sonnet-4-20250514":   {Input: 3.0, Output: 15.0},
		"claude-haiku-4-20250514":    {Input: 0.80, Output: 4.0},
		"claude-sonnet-4-5-20250929": {Input: 3.0, Output: 15.0},
		"claude-opus-4-5-20251101":   {Input: 15.0, Output: 75.0},
		"claude-opus-4-1-20250805":   {Input: 15.0, Output: 75.0},
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.0},
		// Claude 3.x
		"claude-3-5-sonnet-20241022": {Input: 3.0, Output: 15.0},
		"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4.0},
		"claude-3-opus-20240229":     {Input: 15.0, Output: 75.0},
		"claude-3-sonnet-20240229":   {Input: 3.0, Output: 15.0},
		"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},
		// OpenAI
		"gpt-4o":            {Input: 2.50, Output: 10.0},
		"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
		"gpt-4o-2024-11-20": {Input: 2.50, Output: 10.0},
		"gpt-4-turbo":       {Input: 10.0, Output: 30.0},
		"gpt-4":             {Input: 30.0, Output: 60.0},
		"gpt-3.5-turbo":     {Input: 0.50, Output: 1.50},
		"o1":                {Input: 15.0, Output: 60.0},
		"o1-mini":           {Input: 3.0, Output: 12.0},
		"o1-pro":            {Input: 150.0, Output: 600.0},
		"o3":                {Input: 10.0, Output: 40.0},
		"o3-mini":           {Input: 1.10, Output: 4.40},
		"o4-mini":           {Input: 1.10, Output: 4.40},
		// Gemini
		"gemini-2.5-pro-preview-06-05":   {Input: 1.25, Output: 10.0},
		"gemini-2.5-flash-preview-05-20": {Input: 0.15, Output: 0.60},
		"gemini-2.0-flash":               {Input: 0.10, Output: 0.40},
		"gemini-2.0-flash-lite":          {Input: 0.075, Output: 0.30},
		"gemini-1.5-pro":                 {Input: 1.25, Output: 5.0},
		"gemini-1.5-flash":               {Input: 0.075, Output: 0.30},
		// DeepSeek
		"deepseek-chat":     {Input: 0.27, Output: 1.10},
		"deepseek-reasoner": {Input: 0.55, Output: 2.19},
		// Groq-hosted Llama
		"llama-3.3-70b-versatile": {Input: 0.59, Output: 0.79},
		"llama-3.1-8b-instant":    {Input: 0.05, Output: 0.08},
	}
}
