// Package llm is the model-provider boundary of the agent core.
//
// It presents a provider-agnostic client over concrete LLM backends. A
// request carries the conversation history and the tool definitions visible
// to the model; a response carries text, tool-call requests, and token
// usage where input tokens reflect the current full context size.
//
// The package follows three layers:
//
//   - Adapter: the ProviderAdapter interface plus the GollmAdapter backend.
//   - Utilities: error classification (IsRetryable) and Retry with
//     exponential backoff.
//   - Client: provider routing and middleware.
//
// Hosts construct a Client explicitly and inject it into the orchestrator;
// there is no package-level default.
package llm
