package domain

type ResultKind string

const (
	ResultCrisis ResultKind = "crisis"
	ResultReply  ResultKind = "reply"
)

// PipelineResult is the outcome of handling one user message. It is never persisted.
type PipelineResult struct {
	Kind ResultKind

	// Advisory is set for crisis results.
	Advisory string

	// Text and Distortion are set for reply results.
	Text       string
	Distortion *DistortionAnnotation
}

func (r PipelineResult) IsCrisis() bool {
	return r.Kind == ResultCrisis
}
