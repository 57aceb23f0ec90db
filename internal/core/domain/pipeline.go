package domain

import "fmt"

// PipelineDefinition is the validated, ordered chain of stages.
// It is built once at startup and is read-only afterwards.
type PipelineDefinition struct {
	stages []StageDefinition
	index  map[string]int
}

// NewPipelineDefinition validates defs and returns the pipeline.
// Stages form a chain: the first has no upstream and every other stage
// consumes the stage declared immediately before it.
func NewPipelineDefinition(defs ...StageDefinition) (*PipelineDefinition, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: at least one stage is required", ErrInvalidPipeline)
	}

	p := &PipelineDefinition{
		stages: make([]StageDefinition, 0, len(defs)),
		index:  make(map[string]int, len(defs)),
	}

	for i, def := range defs {
		def = def.withDefaults()
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, dup := p.index[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidPipeline, def.Name)
		}
		if i == 0 && def.Upstream != "" {
			return nil, fmt.Errorf("%w: first stage %q cannot have an upstream", ErrInvalidPipeline, def.Name)
		}
		if i > 0 {
			prev := p.stages[i-1].Name
			if def.Upstream == "" {
				def.Upstream = prev
			}
			if def.Upstream != prev {
				return nil, fmt.Errorf("%w: stage %q must consume %q, not %q",
					ErrInvalidPipeline, def.Name, prev, def.Upstream)
			}
		}
		p.index[def.Name] = i
		p.stages = append(p.stages, def)
	}

	return p, nil
}

// Stages returns a copy of the stage definitions in order.
func (p *PipelineDefinition) Stages() []StageDefinition {
	out := make([]StageDefinition, len(p.stages))
	copy(out, p.stages)
	return out
}

// Names returns the stage names in order.
func (p *PipelineDefinition) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of stages.
func (p *PipelineDefinition) Len() int {
	return len(p.stages)
}

// Stage returns the definition for name.
func (p *PipelineDefinition) Stage(name string) (StageDefinition, bool) {
	i, ok := p.index[name]
	if !ok {
		return StageDefinition{}, false
	}
	return p.stages[i], true
}

// Index returns the position of name, or -1.
func (p *PipelineDefinition) Index(name string) int {
	i, ok := p.index[name]
	if !ok {
		return -1
	}
	return i
}

// Ancestors returns the upstream chain of name, nearest first.
func (p *PipelineDefinition) Ancestors(name string) []string {
	i, ok := p.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, i)
	for j := i - 1; j >= 0; j-- {
		out = append(out, p.stages[j].Name)
	}
	return out
}

// NewStageStates returns pending states for every declared stage.
func (p *PipelineDefinition) NewStageStates(documentID string) []StageState {
	states := make([]StageState, len(p.stages))
	for i, s := range p.stages {
		states[i] = StageState{
			DocumentID: documentID,
			Stage:      s.Name,
			Position:   i,
			Status:     StatusPending,
		}
	}
	return states
}
