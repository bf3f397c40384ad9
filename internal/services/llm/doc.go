// Package llm provides an OpenAI-compatible chat client used as the AI tier of
// library classification.
//
// # Entry Points
//
// NewClient / NewClientFrom: construct a client from Config or config.LLMConfig.
// Client.ChooseLibrary: pick one destination library from a numbered list.
// Client.CompleteJSON: send system/user prompts, receive JSON content.
// Client.HealthCheck: single-attempt probe used as the worker availability signal.
//
// # Retry Behaviour
//
// Completion requests retry on HTTP 408/429/5xx, network timeouts and empty
// content with exponential backoff (base 1s, max 10s, 3 attempts by default).
// Retry-After headers are honoured up to the max delay. Context cancellation
// stops retries immediately.
//
// # Errors
//
// Transport failures are tagged with the shared markers from internal/services
// (auth and bad-request answers as configuration errors, the rest transient).
// Unparseable or out-of-range answers wrap ErrMalformedResponse so the caller
// can apply its parse-failure fallback.
package llm
