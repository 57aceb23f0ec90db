package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// mockLLM echoes prompts back with a prefix and records them.
type mockLLM struct {
	mu      sync.Mutex
	prompts []string
	opts    []driven.GenerateOptions
	reply   func(prompt string) (string, error)
}

var _ driven.LLMService = (*mockLLM)(nil)

func (m *mockLLM) Generate(_ context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	m.mu.Unlock()
	if m.reply != nil {
		return m.reply(prompt)
	}
	return "EN[" + prompt + "]", nil
}

func (m *mockLLM) ModelName() string            { return "mock" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error                 { return nil }

var devanagari = regexp.MustCompile(`[\x{0900}-\x{097F}]`)

func units(texts ...string) domain.StageInput {
	in := domain.StageInput{DocumentID: "doc-1", Stage: "translate"}
	for i, s := range texts {
		in.Units = append(in.Units, domain.Unit{Index: i, Data: []byte(s)})
	}
	return in
}

func outputs(t *testing.T, res domain.StageResult) []string {
	t.Helper()
	ok, isOK := res.(domain.Succeeded)
	require.True(t, isOK, "expected success, got %#v", res)
	out := make([]string, len(ok.Units))
	for i, u := range ok.Units {
		out[i] = string(u.Data)
	}
	return out
}

func TestNew(t *testing.T) {
	_, err := New(nil, "translate", "{{.Text}}")
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)

	_, err = New(&mockLLM{}, "broken", "{{.Text")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestExecutor_UnitMode(t *testing.T) {
	llm := &mockLLM{}
	e, err := New(llm, "translate", "{{.Unit}}:{{.Text}}",
		WithGenerateOptions(driven.GenerateOptions{Temperature: 0.2}))
	require.NoError(t, err)

	got := outputs(t, e.Run(context.Background(), units("alpha", "beta")))

	assert.Equal(t, []string{"EN[0:alpha]", "EN[1:beta]"}, got)
	require.Len(t, llm.opts, 2)
	assert.InDelta(t, 0.2, llm.opts[0].Temperature, 1e-9)
}

func TestExecutor_UnitMode_KeepsIndexes(t *testing.T) {
	e, err := New(&mockLLM{}, "t", "{{.Text}}")
	require.NoError(t, err)

	in := domain.StageInput{Units: []domain.Unit{{Index: 7, Data: []byte("x")}}}
	ok, isOK := e.Run(context.Background(), in).(domain.Succeeded)

	require.True(t, isOK)
	assert.Equal(t, 7, ok.Units[0].Index)
}

func TestExecutor_BlankUnitsSkipLLM(t *testing.T) {
	llm := &mockLLM{}
	e, err := New(llm, "t", "{{.Text}}")
	require.NoError(t, err)

	got := outputs(t, e.Run(context.Background(), units("  \n")))

	assert.Equal(t, []string{"  \n"}, got)
	assert.Empty(t, llm.prompts)
}

func TestExecutor_DocumentMode(t *testing.T) {
	llm := &mockLLM{}
	src := `{{range $i, $p := .Pages}}[{{$i}}]{{$p}}{{end}} max={{or .Options.max_words 300}} unit={{.Unit}}`
	e, err := New(llm, "summarise", src,
		WithDocumentMode(true),
		WithOptions(map[string]any{"max_words": int64(120)}))
	require.NoError(t, err)

	got := outputs(t, e.Run(context.Background(), units("p0", "p1")))

	require.Len(t, got, 1)
	assert.Equal(t, "EN[[0]p0[1]p1 max=120 unit=-1]", got[0])
}

func TestExecutor_DocumentMode_DefaultOption(t *testing.T) {
	e, err := New(&mockLLM{}, "summarise", `{{or .Options.max_words 300}}`, WithDocumentMode(true))
	require.NoError(t, err)

	got := outputs(t, e.Run(context.Background(), units("p0")))

	assert.Equal(t, []string{"EN[300]"}, got)
}

func TestExecutor_Passthrough(t *testing.T) {
	llm := &mockLLM{reply: func(p string) (string, error) { return "translated", nil }}
	e, err := New(llm, "translate", "{{.Text}}", WithPassthrough(devanagari))
	require.NoError(t, err)

	t.Run("english only", func(t *testing.T) {
		got := outputs(t, e.Run(context.Background(), units("The House met at 11 AM.")))
		assert.Equal(t, []string{"The House met at 11 AM."}, got)
		assert.Empty(t, llm.prompts)
	})

	t.Run("mixed", func(t *testing.T) {
		text := "MR. SPEAKER: Order.\nसदन की कार्यवाही\nशुरू हुई\nThank you."
		got := outputs(t, e.Run(context.Background(), units(text)))

		assert.Equal(t, []string{"MR. SPEAKER: Order.\ntranslated\nThank you."}, got)
		require.Len(t, llm.prompts, 1)
		assert.Equal(t, "सदन की कार्यवाही\nशुरू हुई", llm.prompts[0])
	})
}

func TestExecutor_Languages(t *testing.T) {
	llm := &mockLLM{}
	e, err := New(llm, "translate", "{{.LanguageTag}}:{{.Text}}", WithLanguages([]string{"hi", "bn"}))
	require.NoError(t, err)

	res := e.Run(context.Background(), units(
		"The House met at eleven of the clock.",
		"अध्यक्ष महोदय",
		"মাননীয় অধ্যক্ষ",
		"12:05",
	))

	assert.Equal(t, []string{
		"The House met at eleven of the clock.",
		"EN[hin_Deva:अध्यक्ष महोदय]",
		"EN[ben_Beng:মাননীয় অধ্যক্ষ]",
		"12:05",
	}, outputs(t, res))
	assert.Len(t, llm.prompts, 2)
}

func TestExecutor_LanguageTagWithoutFilter(t *testing.T) {
	llm := &mockLLM{}
	e, err := New(llm, "translate", "{{.Language}}/{{.LanguageTag}}")
	require.NoError(t, err)

	res := e.Run(context.Background(), units("Question Hour", "प्रश्न काल", "12:05"))

	assert.Equal(t, []string{"EN[en/eng_Latn]", "EN[hi/hin_Deva]", "EN[/hin_Deva]"}, outputs(t, res))
}

func TestExecutor_MaxChars(t *testing.T) {
	llm := &mockLLM{reply: func(p string) (string, error) { return strings.ToUpper(p), nil }}
	e, err := New(llm, "t", "{{.Text}}", WithMaxChars(8))
	require.NoError(t, err)

	got := outputs(t, e.Run(context.Background(), units("abc\ndef\nghi")))

	assert.Equal(t, []string{"ABC\nDEF\nGHI"}, got)
	assert.Equal(t, []string{"abc\ndef", "ghi"}, llm.prompts)
}

func TestExecutor_Failures(t *testing.T) {
	tests := []struct {
		name      string
		reply     func(string) (string, error)
		transient bool
	}{
		{"transient", func(string) (string, error) { return "", fmt.Errorf("503: %w", domain.ErrTransient) }, true},
		{"timeout", func(string) (string, error) { return "", context.DeadlineExceeded }, true},
		{"empty completion", func(string) (string, error) { return " ", nil }, true},
		{"permanent", func(string) (string, error) { return "", errors.New("model not found") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(&mockLLM{reply: tt.reply}, "t", "{{.Text}}")
			require.NoError(t, err)

			res := e.Run(context.Background(), units("x"))

			_, transient := res.(domain.TransientFailure)
			_, permanent := res.(domain.PermanentFailure)
			assert.Equal(t, tt.transient, transient, "got %#v", res)
			assert.Equal(t, !tt.transient, permanent, "got %#v", res)
		})
	}
}

func TestExecutor_RenderErrorIsPermanent(t *testing.T) {
	e, err := New(&mockLLM{}, "t", `{{index .Pages 5}}`)
	require.NoError(t, err)

	res := e.Run(context.Background(), units("x"))

	_, permanent := res.(domain.PermanentFailure)
	assert.True(t, permanent, "got %#v", res)
}

func TestExecutor_CancelledBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &mockLLM{reply: func(p string) (string, error) {
		cancel()
		return "done", nil
	}}
	e, err := New(llm, "t", "{{.Text}}")
	require.NoError(t, err)

	res := e.Run(ctx, units("a", "b", "c"))

	_, ok := res.(domain.Succeeded)
	assert.False(t, ok)
	assert.Len(t, llm.prompts, 1)
}

func TestSegment(t *testing.T) {
	spans := segment("a\nसदन\nb\nc", devanagari)

	require.Len(t, spans, 3)
	assert.Equal(t, span{match: false, text: "a"}, spans[0])
	assert.Equal(t, span{match: true, text: "सदन"}, spans[1])
	assert.Equal(t, span{match: false, text: "b\nc"}, spans[2])
}

func TestChunkLines(t *testing.T) {
	assert.Equal(t, []string{"one"}, chunkLines("one", 100))
	assert.Equal(t, []string{"aaaaaaaaaa", "b"}, chunkLines("aaaaaaaaaa\nb", 4))
	assert.Equal(t, []string{"ab\ncd", "ef"}, chunkLines("ab\ncd\nef", 6))
}
