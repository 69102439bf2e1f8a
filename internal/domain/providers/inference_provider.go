package providers

import (
	"context"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// ScanRequest is an inference request over a CT volume: the prompt, a set of
// PNG-encoded key slices, the modality tag, and an output-token cap. Spacing
// is the source volume's voxel spacing in mm (z, y, x); it scales any
// voxel-space sizes the model reports back to millimeters.
type ScanRequest struct {
	Prompt          string
	Slices          [][]byte
	Modality        string
	MaxOutputTokens int
	Spacing         [3]float64
}

// InferenceProvider is the black-box multimodal inference capability. The
// response is validated against the expected schema before any field is
// trusted; schema violations surface as InferenceFailure errors.
type InferenceProvider interface {
	// AnalyzeScan runs stone detection over key slices and returns
	// normalized findings
	AnalyzeScan(ctx context.Context, req ScanRequest) (*entities.ScanFindings, error)

	// GenerateText produces free text for a prompt (education summaries)
	GenerateText(ctx context.Context, prompt string) (string, error)
}
