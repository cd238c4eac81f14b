package types

import (
	"encoding/json"
	"math"
	"time"
)

// Envelope statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ExtractionError is a single error record in the output envelope.
// Validation errors carry Field; internal errors carry Component.
type ExtractionError struct {
	Field     string `json:"field,omitempty"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

// OutputMeta is the meta section of the output envelope.
type OutputMeta struct {
	IDConversazione    string             `json:"id_conversazione"`
	IDMessaggio        string             `json:"id_messaggio"`
	Status             string             `json:"status"`
	LayerVersion       string             `json:"layer_version"`
	ProcessingTimeMs   float64            `json:"processing_time_ms"`
	ComponentTimingsMs map[string]float64 `json:"component_timings_ms"`
	FeatureFlags       map[string]bool    `json:"feature_flags"`
	Fallbacks          []string           `json:"fallbacks"`
	EntityCount        int                `json:"entity_count"`
}

// ExtractionOutput is the envelope returned by every pipeline run.
// It is built incrementally by the orchestrator and is always serializable
// to valid JSON, including on hard failure.
type ExtractionOutput struct {
	Entities []Entity          `json:"entities"`
	Meta     OutputMeta        `json:"meta"`
	Errors   []ExtractionError `json:"errors"`

	started time.Time
}

// NewExtractionOutput creates an empty ok envelope for the given message.
func NewExtractionOutput(idConv, idMsg, layerVersion string, featureFlags map[string]bool) *ExtractionOutput {
	if featureFlags == nil {
		featureFlags = map[string]bool{}
	}
	return &ExtractionOutput{
		Entities: []Entity{},
		Meta: OutputMeta{
			IDConversazione:    idConv,
			IDMessaggio:        idMsg,
			Status:             StatusOK,
			LayerVersion:       layerVersion,
			ComponentTimingsMs: map[string]float64{},
			FeatureFlags:       featureFlags,
			Fallbacks:          []string{},
		},
		Errors:  []ExtractionError{},
		started: time.Now(),
	}
}

// SetEntities sets the final entity list and updates the entity count.
func (o *ExtractionOutput) SetEntities(entities []Entity) {
	if entities == nil {
		entities = []Entity{}
	}
	o.Entities = entities
	o.Meta.EntityCount = len(entities)
}

// AddError records a non-blocking error. The pipeline continues and returns
// partial results.
func (o *ExtractionOutput) AddError(err ExtractionError) {
	o.Errors = append(o.Errors, err)
}

// AddFallback registers a fallback activation, e.g. a NER skip reason.
func (o *ExtractionOutput) AddFallback(description string) {
	o.Meta.Fallbacks = append(o.Meta.Fallbacks, description)
}

// SetFailed marks the extraction as hard-failed. Entities are cleared.
func (o *ExtractionOutput) SetFailed(component, message, errType string) {
	o.Meta.Status = StatusFailed
	o.SetEntities(nil)
	o.Errors = append(o.Errors, ExtractionError{
		Component: component,
		Message:   message,
		Type:      errType,
	})
}

// RecordTiming records elapsed milliseconds for a named pipeline component.
func (o *ExtractionOutput) RecordTiming(component string, elapsedMs float64) {
	o.Meta.ComponentTimingsMs[component] = math.Round(elapsedMs*1000) / 1000
}

// Finalize stamps the total processing time. Called once before serialization.
func (o *ExtractionOutput) Finalize() {
	if !o.started.IsZero() {
		o.Meta.ProcessingTimeMs = math.Round(float64(time.Since(o.started).Microseconds())) / 1000
	}
}

// ToJSON serializes the envelope. It never fails: if encoding the full
// envelope errors, a minimal failed envelope is returned instead.
func (o *ExtractionOutput) ToJSON() []byte {
	data, err := json.Marshal(o)
	if err == nil {
		return data
	}
	safe := NewExtractionOutput(o.Meta.IDConversazione, o.Meta.IDMessaggio, o.Meta.LayerVersion, nil)
	safe.SetFailed("serializer", err.Error(), "internal")
	data, _ = json.Marshal(safe)
	return data
}
