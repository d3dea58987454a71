// Package llm is a small chat client for OpenAI-compatible completion
// endpoints, used by the text caption providers (Qwen via DashScope,
// DeepSeek, OpenRouter).
//
// CompleteText returns a one-line answer. HealthCheck asks for a fixed JSON
// reply and is what `datadealer preflight` runs against remote providers.
//
// Requests retry on HTTP 408, 429 and 5xx, on empty answers, and on network
// timeouts, with exponential backoff (1s doubling to 10s, 5 attempts). A
// Retry-After header overrides the backoff. Cancellation stops retries at
// once.
//
// Callers own the fallback: the caption package substitutes a heuristic
// label when a completion fails.
package llm
