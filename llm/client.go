// Package llm extracts unit records from unstructured pages through the
// Anthropic Messages API, using a forced tool call to get structured output.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const (
	DefaultModel      = "claude-3-haiku-20240307"
	DefaultMaxRetries = 2
	toolName          = "record_units"
	maxTokens         = 4096
)

var ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY is not set")

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API host, e.g. for a gateway.
	BaseURL string
	HTTP    *http.Client
	// MaxRetries applies to 429 and 5xx replies; zero disables retrying.
	MaxRetries int
}

type Client struct {
	api    anthropic.Client
	model  anthropic.Model
	schema *outputSchema
	input  anthropic.ToolInputSchemaParam
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	schema, err := newOutputSchema()
	if err != nil {
		return nil, err
	}
	input, err := schema.toolInput()
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:    anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
		schema: schema,
		input:  input,
	}, nil
}

// Extract sends cleaned page content to the model. A reply that is not a
// well-formed tool call matching the schema yields no records and no error;
// transport and API failures, including undecodable bodies, are errors.
func (c *Client) Extract(ctx context.Context, pageURL, content string) ([]models.RawUnit, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: extractionInstruction}},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        toolName,
				Description: anthropic.String("Record the apartment units available for rent on the page."),
				InputSchema: c.input,
			},
		}},
		ToolChoice: anthropic.ToolChoiceParamOfTool(toolName),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf("Page: %s\n\n%s", pageURL, content))),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("llm API error %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("llm request: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != toolName {
			continue
		}
		units, ok := c.schema.decode(block.Input)
		if !ok {
			log.Printf("LLM: response for %s does not match schema, treating as empty", pageURL)
			return []models.RawUnit{}, nil
		}
		return units, nil
	}

	log.Printf("LLM: no tool call in response for %s (stop_reason=%s)", pageURL, msg.StopReason)
	return []models.RawUnit{}, nil
}

// toolInput splits the generated schema into the SDK's input schema: the
// properties map plus every other keyword (required, additionalProperties)
// carried through verbatim.
func (s *outputSchema) toolInput() (anthropic.ToolInputSchemaParam, error) {
	var fields map[string]any
	if err := json.Unmarshal(s.raw, &fields); err != nil {
		return anthropic.ToolInputSchemaParam{}, fmt.Errorf("split schema: %w", err)
	}
	input := anthropic.ToolInputSchemaParam{Properties: fields["properties"]}
	delete(fields, "properties")
	delete(fields, "type")
	if len(fields) > 0 {
		input.ExtraFields = fields
	}
	return input, nil
}
