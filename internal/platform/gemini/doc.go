// Package gemini implements the pipeline's Transcriber, TextAnalyzer and
// VisualAnalyzer on Google's Gemini API.
//
// Every call goes through Client.generate, which:
//
//   - renders an embedded prompt template
//   - attaches media as inline parts
//   - asks for a JSON response and decodes it into the caller's struct
//   - retries failed API calls with exponential backoff
//
// Malformed or blocked responses are not retried.
//
// The genai client is reached through the ContentGenerator interface so tests
// can substitute a fake.
package gemini
