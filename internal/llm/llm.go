// Package llm answers natural-language questions about stored scores with an
// OpenAI-compatible model that can run read-only SQL through a single tool.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/remedial/internal/llm/prompts"
	"github.com/pavelanni/remedial/internal/metrics"
)

// DefaultMaxRounds bounds the number of tool-calling rounds per question.
const DefaultMaxRounds = 5

const sqlToolName = "sql_query"

// ErrTooManyRounds reports a model that kept calling tools without answering.
var ErrTooManyRounds = errors.New("model did not answer within the tool round limit")

// Querier runs guarded read-only SQL.
type Querier interface {
	QueryReadOnly(ctx context.Context, query string) ([]map[string]any, error)
}

// Database is what the model is told about and allowed to query.
type Database struct {
	Querier Querier
	Dialect string
	Schema  string
	MaxRows int
}

// Answer is the model's reply together with the SQL it ran.
type Answer struct {
	Text    string   `json:"result"`
	Queries []string `json:"queries,omitempty"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api       *openai.Client
	model     string
	maxRounds int
	tracer    trace.Tracer
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:       openai.NewClientWithConfig(config),
		model:     modelName,
		maxRounds: DefaultMaxRounds,
		tracer:    otel.Tracer("github.com/pavelanni/remedial/internal/llm"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM list models: %w", err)
	}
	return nil
}

func sqlTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        sqlToolName,
			Description: "Run a SQL SELECT query on the scores database and return the rows as JSON.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {Type: jsonschema.String, Description: "A single SELECT statement."},
				},
				Required: []string{"query"},
			},
		},
	}
}

// Ask answers question, letting the model query db through the sql_query tool.
func (c *Client) Ask(ctx context.Context, db Database, question string) (*Answer, error) {
	ctx, span := c.tracer.Start(ctx, "llm.ask", trace.WithAttributes(attribute.String("model", c.model)))
	defer span.End()

	start := time.Now()
	ans, err := c.ask(ctx, db, question)
	metrics.QueryDuration().WithLabelValues(c.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueryFailures().WithLabelValues(c.model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("queries", len(ans.Queries)))
	return ans, nil
}

func (c *Client) ask(ctx context.Context, db Database, question string) (*Answer, error) {
	system, err := prompts.BuildSystemPrompt(prompts.SystemData{Dialect: db.Dialect, Schema: db.Schema, MaxRows: db.MaxRows})
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	user, err := prompts.BuildQuestionPrompt(question)
	if err != nil {
		return nil, fmt.Errorf("build question prompt: %w", err)
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}
	ans := &Answer{}

	for round := 0; round < c.maxRounds; round++ {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    msgs,
			Tools:       []openai.Tool{sqlTool()},
			Temperature: 0.1,
		})
		if err != nil {
			return nil, fmt.Errorf("LLM API call: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("LLM returned no choices")
		}

		reply := resp.Choices[0].Message
		slog.Debug("LLM response", "round", round, "content", reply.Content, "tool_calls", len(reply.ToolCalls))
		msgs = append(msgs, reply)

		if len(reply.ToolCalls) == 0 {
			ans.Text = strings.TrimSpace(reply.Content)
			return ans, nil
		}

		for _, call := range reply.ToolCalls {
			query, result := runTool(ctx, db.Querier, call)
			if query != "" {
				ans.Queries = append(ans.Queries, query)
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
	return nil, ErrTooManyRounds
}

// runTool executes one tool call. Errors are reported back to the model as JSON.
func runTool(ctx context.Context, db Querier, call openai.ToolCall) (string, string) {
	if call.Function.Name != sqlToolName {
		return "", toolError(fmt.Errorf("unknown tool %q", call.Function.Name))
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", toolError(fmt.Errorf("invalid arguments: %w", err))
	}

	rows, err := db.QueryReadOnly(ctx, args.Query)
	if err != nil {
		slog.Warn("sql tool failed", "query", args.Query, "error", err)
		return args.Query, toolError(err)
	}
	out, err := json.Marshal(rows)
	if err != nil {
		return args.Query, toolError(err)
	}
	slog.Debug("sql tool", "query", args.Query, "rows", len(rows))
	return args.Query, string(out)
}

func toolError(err error) string {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(out)
}
