// Package llm wraps the OpenAI-compatible chat completion API used for
// track analysis and cover art generation. Requests are JSON-only with
// bounded retries and exponential backoff; responses are decoded
// tolerantly because providers vary in how strictly they honor the
// json_object response format.
package llm
