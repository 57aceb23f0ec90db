// Package prompt provides an executor that renders a prompt template and
// sends it to an LLM. It backs translation and summarisation.
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/lang"
)

// Ensure Executor implements the interface.
var _ driven.StageExecutor = (*Executor)(nil)

// Data is the value a prompt template is rendered with.
type Data struct {
	DocumentID string
	Stage      string

	// Unit is the input unit index, or -1 when rendering a whole document.
	Unit int

	// Text is the unit text, or every page joined by blank lines.
	Text string

	// Pages holds the page texts in order.
	Pages []string

	// Language is the detected language code of Text, e.g. "hi".
	Language string

	// LanguageTag is the IndicTrans2 tag for Language, e.g. "hin_Deva".
	LanguageTag string

	// Options is the stage's executor table.
	Options map[string]any
}

// Executor renders a template per unit, or once per document,
// and returns the completions as output units.
type Executor struct {
	llm         driven.LLMService
	tmpl        *template.Template
	options     map[string]any
	document    bool
	generate    driven.GenerateOptions
	passthrough *regexp.Regexp
	maxChars    int
	languages   []string
}

// Option configures the executor.
type Option func(*Executor)

// WithDocumentMode renders one prompt over all input units.
func WithDocumentMode(document bool) Option {
	return func(e *Executor) {
		e.document = document
	}
}

// WithOptions exposes the stage's options to the template.
func WithOptions(options map[string]any) Option {
	return func(e *Executor) {
		e.options = options
	}
}

// WithGenerateOptions sets the generation parameters.
func WithGenerateOptions(opts driven.GenerateOptions) Option {
	return func(e *Executor) {
		e.generate = opts
	}
}

// WithPassthrough sends only the lines matching re to the LLM and keeps
// the rest of the text verbatim. Text with no matching line is returned
// unchanged without a call.
func WithPassthrough(re *regexp.Regexp) Option {
	return func(e *Executor) {
		e.passthrough = re
	}
}

// WithLanguages limits the LLM to units detected as one of codes. Other
// units, including those with no recognisable script, are returned
// unchanged without a call.
func WithLanguages(codes []string) Option {
	return func(e *Executor) {
		e.languages = codes
	}
}

// WithMaxChars splits unit text on line boundaries into pieces of at most
// n characters, one completion each.
func WithMaxChars(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// New parses source as a text/template and returns the executor.
func New(llm driven.LLMService, name, source string, opts ...Option) (*Executor, error) {
	if llm == nil {
		return nil, domain.ErrLLMUnavailable
	}
	tmpl, err := template.New(name).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: parse prompt %q: %v", domain.ErrInvalidInput, name, err)
	}
	e := &Executor{llm: llm, tmpl: tmpl}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run produces one completion per input unit, or a single unit 0 in
// document mode.
func (e *Executor) Run(ctx context.Context, in domain.StageInput) domain.StageResult {
	if e.document {
		pages := make([]string, len(in.Units))
		for i, u := range in.Units {
			pages[i] = string(u.Data)
		}
		data := e.data(in, -1, strings.Join(pages, "\n\n"))
		data.Pages = pages

		out, err := e.complete(ctx, data)
		if err != nil {
			return domain.ResultFromError(err)
		}
		return domain.Succeeded{Units: []domain.Unit{{Index: 0, Data: []byte(out)}}}
	}

	units := make([]domain.Unit, 0, len(in.Units))
	for _, u := range in.Units {
		if err := ctx.Err(); err != nil {
			return domain.ResultFromError(err)
		}
		out, err := e.transform(ctx, in, u)
		if err != nil {
			return domain.ResultFromError(fmt.Errorf("unit %d: %w", u.Index, err))
		}
		units = append(units, domain.Unit{Index: u.Index, Data: []byte(out)})
	}
	return domain.Succeeded{Units: units}
}

// transform rewrites one unit's text.
func (e *Executor) transform(ctx context.Context, in domain.StageInput, u domain.Unit) (string, error) {
	text := string(u.Data)
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if len(e.languages) > 0 && !lang.Contains(e.languages, lang.Detect(text)) {
		return text, nil
	}
	if e.passthrough == nil {
		return e.completePieces(ctx, in, u.Index, text)
	}
	if !e.passthrough.MatchString(text) {
		return text, nil
	}

	var out []string
	for _, seg := range segment(text, e.passthrough) {
		if !seg.match || strings.TrimSpace(seg.text) == "" {
			out = append(out, seg.text)
			continue
		}
		done, err := e.completePieces(ctx, in, u.Index, seg.text)
		if err != nil {
			return "", err
		}
		out = append(out, done)
	}
	return strings.Join(out, "\n"), nil
}

// completePieces completes text, split into maxChars pieces when set.
func (e *Executor) completePieces(ctx context.Context, in domain.StageInput, unit int, text string) (string, error) {
	pieces := []string{text}
	if e.maxChars > 0 {
		pieces = chunkLines(text, e.maxChars)
	}
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			out = append(out, p)
			continue
		}
		data := e.data(in, unit, p)
		data.Pages = []string{p}
		done, err := e.complete(ctx, data)
		if err != nil {
			return "", err
		}
		out = append(out, done)
	}
	return strings.Join(out, "\n"), nil
}

func (e *Executor) complete(ctx context.Context, data Data) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", e.tmpl.Name(), err)
	}
	out, err := e.llm.Generate(ctx, buf.String(), e.generate)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("empty completion: %w", domain.ErrTransient)
	}
	return out, nil
}

func (e *Executor) data(in domain.StageInput, unit int, text string) Data {
	code := lang.Detect(text)
	return Data{
		DocumentID:  in.DocumentID,
		Stage:       in.Stage,
		Unit:        unit,
		Text:        text,
		Options:     e.options,
		Language:    code,
		LanguageTag: lang.Tag(code),
	}
}

// span is a run of lines that all match, or all don't match, a pattern.
type span struct {
	match bool
	text  string
}

// segment groups consecutive lines of text by whether they match re.
func segment(text string, re *regexp.Regexp) []span {
	var spans []span
	var buf []string
	current := false
	for i, line := range strings.Split(text, "\n") {
		m := re.MatchString(line)
		if i > 0 && m != current {
			spans = append(spans, span{match: current, text: strings.Join(buf, "\n")})
			buf = nil
		}
		current = m
		buf = append(buf, line)
	}
	if buf != nil {
		spans = append(spans, span{match: current, text: strings.Join(buf, "\n")})
	}
	return spans
}

// chunkLines packs whole lines into chunks of at most limit characters.
// A single longer line becomes its own chunk.
func chunkLines(text string, limit int) []string {
	var chunks []string
	var current []string
	size := 0
	for _, line := range strings.Split(text, "\n") {
		n := len([]rune(line))
		if len(current) > 0 && size+n+1 > limit {
			chunks = append(chunks, strings.Join(current, "\n"))
			current, size = nil, 0
		}
		current = append(current, line)
		size += n + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}
