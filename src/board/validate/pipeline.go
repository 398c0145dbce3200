package validate

// Fields is the loosely typed shape shared by raw submissions and the
// accumulated pipeline result.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Stage validates part of a submission. It receives the raw input and a copy
// of everything earlier stages produced, and returns the fields to merge.
type Stage interface {
	Validate(raw, acc Fields) (Fields, error)
}

// StageFunc adapts a plain function to Stage.
type StageFunc func(raw, acc Fields) (Fields, error)

// Validate implements Stage.
func (f StageFunc) Validate(raw, acc Fields) (Fields, error) { return f(raw, acc) }

// Pipeline runs the baseline stage followed by domain stages in order.
type Pipeline struct {
	stages []Stage
}

// New builds a pipeline. Baseline always runs first; domain stages run in the
// order given and may overwrite any field set before them.
func New(domain ...Stage) *Pipeline {
	stages := make([]Stage, 0, len(domain)+1)
	stages = append(stages, Baseline)
	for _, s := range domain {
		if s != nil {
			stages = append(stages, s)
		}
	}
	return &Pipeline{stages: stages}
}

// Len reports the number of stages including the baseline.
func (p *Pipeline) Len() int { return len(p.stages) }

// Validate runs every stage and returns the merged result. The first stage
// error aborts the run and is returned unchanged.
func (p *Pipeline) Validate(raw Fields) (Fields, error) {
	if raw == nil {
		raw = Fields{}
	}
	acc := Fields{}
	for _, stage := range p.stages {
		out, err := stage.Validate(raw, acc.Clone())
		if err != nil {
			return nil, err
		}
		for k, v := range out {
			acc[k] = v
		}
	}
	return acc, nil
}
