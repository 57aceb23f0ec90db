package driven

// Built-in prompt template names.
const (
	PromptTranslate = "translate"
	PromptSummarise = "summarise"
)

// PromptStore loads prompt templates by name.
// Templates use text/template syntax and are rendered by the prompt executor.
type PromptStore interface {
	// Load returns the template source for name.
	Load(name string) (string, error)
}
