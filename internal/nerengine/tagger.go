package nerengine

import "context"

// Tag is a single span produced by the statistical tagger.
// Offsets are byte offsets into the text passed to Tag.
type Tag struct {
	Text       string  // Surface form
	Label      string  // Model label (e.g. PER, ORG, AZIENDA)
	Start      int     // Inclusive start offset
	End        int     // Exclusive end offset
	Confidence float64 // Model score; clamped to the configured floor downstream
}

// Tagger is the call contract with the external statistical NER model.
// Implementations must honor ctx cancellation; the engine additionally
// bounds every call with a goroutine-based timeout. Taggers returned by a
// Loader must be safe for concurrent use, or serialize internally.
type Tagger interface {
	Tag(ctx context.Context, text string) ([]Tag, error)
}

// Loader loads a tagger by model name. Called at most once per name while
// the model cache holds the entry.
type Loader func(modelName string) (Tagger, error)
