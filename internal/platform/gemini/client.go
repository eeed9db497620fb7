package gemini

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/adlens/internal/config"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/redact"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

// maxInlineBytes is the request size Gemini accepts for inline media.
const maxInlineBytes = 20 << 20

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// ContentGenerator is the part of the genai client the package uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client sends prompts to one Gemini model.
type Client struct {
	gen        ContentGenerator
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	readFile   func(name string) ([]byte, error)
}

// NewClient builds a Client backed by the Gemini API.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return NewClientWithGenerator(client.Models, cfg, logger)
}

// NewClientWithGenerator builds a Client on gen.
func NewClientWithGenerator(gen ContentGenerator, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: content generator cannot be nil", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}

	return &Client{
		gen:        gen,
		model:      cfg.ModelName,
		maxRetries: maxRetries,
		retryDelay: delay,
		logger:     logger.With("component", "gemini", "model", cfg.ModelName),
		readFile:   os.ReadFile,
	}, nil
}

// generate renders prompt, sends it with media and decodes the JSON answer into out.
func (c *Client) generate(
	ctx context.Context,
	prompt string,
	data any,
	media []*genai.Part,
	out any,
) error {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, prompt, data); err != nil {
		return fmt.Errorf("failed to execute prompt template %s: %w", prompt, err)
	}

	parts := make([]*genai.Part, 0, len(media)+1)
	parts = append(parts, media...)
	parts = append(parts, genai.NewPartFromText(buf.String()))

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	genConfig := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.2)),
		ResponseMIMEType: "application/json",
	}

	log := logger.FromContextOrDefault(ctx, c.logger).With("prompt", prompt)
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := c.gen.GenerateContent(ctx, c.model, contents, genConfig)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Gemini API call failed",
				"attempt", attempt,
				"error", redact.Error(err))
			return retry.RetryableError(err)
		}
		return decodeResponse(resp, out)
	})
	if err != nil {
		log.Error("Gemini request failed", "attempts", attempt, "error", redact.Error(err))
		return err
	}

	log.Debug("Gemini request succeeded", "attempts", attempt)
	return nil
}

// decodeResponse extracts the JSON text of resp into out.
func decodeResponse(resp *genai.GenerateContentResponse, out any) error {
	if resp == nil || len(resp.Candidates) == 0 {
		return fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return ErrContentBlocked
	}

	text := cleanFences(resp.Text())
	if text == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	return nil
}

func cleanFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// inlinePart reads path into an inline media part.
func (c *Client) inlinePart(path, fallbackMIME string) (*genai.Part, int, error) {
	data, err := c.readFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: %s is empty", ErrEmptyInput, filepath.Base(path))
	}
	if len(data) > maxInlineBytes {
		return nil, 0, fmt.Errorf("%w: %s is %d bytes", ErrMediaTooLarge, filepath.Base(path), len(data))
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = fallbackMIME
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}

	return genai.NewPartFromBytes(data, mimeType), len(data), nil
}
