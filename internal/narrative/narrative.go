// Package narrative turns run statistics into a short written summary using
// an external text-generation service.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"sales-insight/internal/config"
	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/models"
)

// TextGenerator is the external capability that writes the narrative.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

const systemPrompt = `You are a retail analytics assistant. You write concise, factual summaries of e-commerce sales data for business owners. Never invent numbers that are not in the data.`

var promptTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"join": func(series []decimal.Decimal) string {
		parts := make([]string, len(series))
		for i, d := range series {
			parts[i] = d.StringFixed(2)
		}
		return strings.Join(parts, ", ")
	},
}).Parse(`Create a brief summary of the following e-commerce sales data.

Total Sales Information:
- Total Sales Count: {{.WindowStats.RecordCount}}
- Total Revenue: ${{money .WindowStats.TotalRevenue}}
- Analysis Period: Last {{.WindowStats.Window.Hours}} hours

Category Sales Information:
{{- range .CategoryBreakdown.Data}}
- {{.Category}}: {{.SaleCount}} sales, ${{money .Revenue}} revenue
{{- else}}
- No category sales in this period
{{- end}}

Sales Trends:
- Peak Sales Hour: {{.HourlyTrend.PeakHour}}:00
- Slowest Sales Hour: {{.HourlyTrend.SlowestHour}}:00
- Hourly Revenue Trend: {{join .HourlyTrend.Series}}
{{- if .TopProducts}}

Top Products:
{{- range .TopProducts}}
- {{.ProductName}}: {{.UnitsSold}} units, ${{money .Revenue}} revenue
{{- end}}
{{- end}}

Based on this data, provide a short summary of the sales performance over the last {{.WindowStats.Window.Hours}} hours,
highlight notable product categories, analyze trends in sales hours, and
provide 2-3 strategic recommendations for business owners.
`))

// RenderPrompt renders the fixed summary template for stats.
func RenderPrompt(stats models.Statistics) (string, error) {
	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, stats); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// Summarizer bounds a TextGenerator call with a timeout and reports every
// failure as NARRATIVE_UNAVAILABLE.
type Summarizer struct {
	gen     TextGenerator
	timeout time.Duration
	logger  *slog.Logger
}

func NewSummarizer(gen TextGenerator, timeout time.Duration, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		gen:     gen,
		timeout: timeout,
		logger:  logger.With("component", "narrative", "generator", gen.Name()),
	}
}

func (s *Summarizer) Summarize(ctx context.Context, stats models.Statistics) (string, error) {
	prompt, err := RenderPrompt(stats)
	if err != nil {
		return "", apperrors.NarrativeUnavailable(err, "render prompt")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", apperrors.NarrativeUnavailable(err, fmt.Sprintf("narrative timed out after %s", s.timeout))
		}
		return "", apperrors.NarrativeUnavailable(err, "narrative generation failed")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.NarrativeUnavailable(nil, "narrative generator returned empty text")
	}

	s.logger.Debug("narrative generated", "duration", time.Since(start), "length", len(text))
	return text, nil
}

// generate runs the call on its own goroutine so a generator that ignores
// its context still cannot hold the run past the deadline.
func (s *Summarizer) generate(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := s.gen.Generate(ctx, systemPrompt, prompt)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.NarrativeConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "genai":
		return NewGenAIGenerator(ctx, cfg)
	case "openai":
		return NewOpenAIGenerator(cfg)
	case "disabled":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown narrative provider %q", cfg.Provider)
	}
}

// Disabled is used when no text-generation service is configured.
type Disabled struct{}

var errDisabled = errors.New("narrative generation is disabled")

func (Disabled) Generate(context.Context, string, string) (string, error) {
	return "", errDisabled
}

func (Disabled) Name() string { return "disabled" }
