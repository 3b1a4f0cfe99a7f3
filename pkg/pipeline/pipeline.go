// Package pipeline runs the content stage of postforge: a short sequence of
// LLM tasks that research a topic and turn the findings into post text and
// an image prompt.
//
// Agents and tasks are declared in YAML. Each task is rendered with
// text/template before it is sent, so a task can refer to the run inputs
// and to the output of any earlier task:
//
//	{{.Topic}}                  the topic given to Run
//	{{.Date}}                   today's date, YYYY-MM-DD
//	{{.Previous}}               output of the task just before this one
//	{{.Outputs.<task_name>}}    output of a named earlier task
//	{{.Sources}}                text fetched from the task's sources URLs
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/llm"
	"github.com/entrhq/postforge/pkg/llm/parser"
	"github.com/entrhq/postforge/pkg/logging"
)

// SourceFetcher turns a URL into prompt-ready text.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Inputs are the values a run starts from.
type Inputs struct {
	Topic string
}

// Output is the result of a run.
type Output struct {
	Post        string
	ImagePrompt string

	// Outputs holds every task's output by task name.
	Outputs map[string]string
}

// Pipeline executes Definitions against an LLM provider.
type Pipeline struct {
	provider   llm.Provider
	defs       *Definitions
	fetcher    SourceFetcher
	clock      clock.Clock
	logger     *logging.Logger
	stageDelay time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFetcher replaces the source fetcher.
func WithFetcher(f SourceFetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

// WithClock sets the clock used for the stage delay and the {{.Date}} value.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithStageDelay pauses before the first image_prompt task, separating the
// writing stage from the image stage.
func WithStageDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.stageDelay = d }
}

// New creates a pipeline. defs must already be valid.
func New(provider llm.Provider, defs *Definitions, opts ...Option) (*Pipeline, error) {
	if provider == nil {
		return nil, fmt.Errorf("pipeline requires an LLM provider")
	}
	if defs == nil {
		return nil, fmt.Errorf("pipeline requires definitions")
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		provider: provider,
		defs:     defs,
		fetcher:  NewFetcher(),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type promptData struct {
	Topic    string
	Date     string
	Previous string
	Outputs  map[string]string
	Sources  string
}

// Run executes every task in order. The first failing task stops the run.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Output, error) {
	if strings.TrimSpace(in.Topic) == "" {
		return nil, fmt.Errorf("pipeline topic is empty")
	}

	out := &Output{Outputs: make(map[string]string, len(p.defs.Tasks))}
	data := promptData{
		Topic:   in.Topic,
		Date:    p.clock.Now().Format("2006-01-02"),
		Outputs: out.Outputs,
	}
	delayed := false

	for i, task := range p.defs.Tasks {
		if task.Output == OutputImagePrompt && !delayed && p.stageDelay > 0 && i > 0 {
			p.logger.Infof("waiting %s before image stage", p.stageDelay)
			if err := p.clock.Sleep(ctx, p.stageDelay); err != nil {
				return nil, err
			}
			delayed = true
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.logger.Infof("running task %s (%d/%d)", task.Name, i+1, len(p.defs.Tasks))
		result, err := p.runTask(ctx, task, data)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}

		out.Outputs[task.Name] = result
		data.Previous = result
		p.logger.Debugf("task %s produced %d characters", task.Name, len(result))
	}

	out.Post = out.Outputs[p.defs.PostTask()]
	for _, task := range p.defs.Tasks {
		if task.Output == OutputImagePrompt {
			out.ImagePrompt = out.Outputs[task.Name]
		}
	}
	return out, nil
}

func (p *Pipeline) runTask(ctx context.Context, task Task, data promptData) (string, error) {
	agent := p.defs.Agents[task.Agent]

	data.Sources = p.fetchSources(ctx, task.Sources)

	system, err := render(task.Name+".agent", systemPrompt(agent), data)
	if err != nil {
		return "", err
	}
	description, err := render(task.Name, task.Description, data)
	if err != nil {
		return "", err
	}

	prompt := strings.TrimSpace(description)
	if task.ExpectedOutput != "" {
		prompt += "\n\nExpected output: " + strings.TrimSpace(task.ExpectedOutput)
	}

	msg, err := p.provider.Complete(ctx, []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(prompt),
	})
	if err != nil {
		return "", err
	}

	result := strings.TrimSpace(parser.Strip(msg.Content))
	if result == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return result, nil
}

// fetchSources concatenates the text of every reachable source. Unreachable
// sources are logged and skipped.
func (p *Pipeline) fetchSources(ctx context.Context, urls []string) string {
	if len(urls) == 0 || p.fetcher == nil {
		return ""
	}

	parts := make([]string, 0, len(urls))
	for _, url := range urls {
		page, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			p.logger.Warnf("skipping source %s: %v", url, err)
			continue
		}
		parts = append(parts, page.render())
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func systemPrompt(a Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s.\n", strings.TrimSpace(a.Role))
	if a.Goal != "" {
		fmt.Fprintf(&b, "Your goal: %s\n", strings.TrimSpace(a.Goal))
	}
	if a.Backstory != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(a.Backstory))
	}
	return b.String()
}

func render(name, text string, data promptData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}
