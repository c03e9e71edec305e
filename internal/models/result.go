package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Label is the outcome reported for one analysed scan
type Label string

const (
	ParkinsonsDisease Label = "Parkinson's Disease"
	HealthyControl    Label = "Healthy Control"
	ModelMissing      Label = "Model Missing"
	AnalysisError     Label = "Analysis Error"
	AnalysisFailed    Label = "Analysis Failed"
)

// Labels lists every label in display order
var Labels = []Label{ParkinsonsDisease, HealthyControl, ModelMissing, AnalysisError, AnalysisFailed}

// Diagnostic reports whether the label is a class prediction rather than an error state
func (l Label) Diagnostic() bool {
	return l == ParkinsonsDisease || l == HealthyControl
}

// Valid reports whether l is one of Labels
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Result is the outcome of analysing one scan
type Result struct {
	// ID identifies the analysis run
	ID string `json:"id"`

	// ScanPath is the analysed file
	ScanPath string `json:"scanPath"`

	Label Label `json:"label"`

	// Confidence is the predicted class probability in percent, rounded to
	// two decimals, and 0 for every error label
	Confidence float64 `json:"confidence"`

	// SnapshotPath is the viewer volume, empty when none could be produced.
	// It is encoded as null in that case.
	SnapshotPath string `json:"snapshotPath"`

	// Simulated is set when the features were replaced by the synthetic
	// fallback vector. Such a label is not a diagnosis.
	Simulated bool `json:"simulated"`

	// PlaceholderModel is set when the classifier was trained on random data
	PlaceholderModel bool `json:"placeholderModel"`

	FeatureCount int `json:"featureCount"`

	// Errors holds one message per failed stage
	Errors []string `json:"errors,omitempty"`

	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Genuine reports whether the result is a real diagnostic prediction
func (r Result) Genuine() bool {
	return r.Label.Diagnostic() && !r.Simulated && !r.PlaceholderModel
}

// Snapshot returns the snapshot path, or nil when there is none
func (r Result) Snapshot() *string {
	if r.SnapshotPath == "" {
		return nil
	}
	p := r.SnapshotPath
	return &p
}

// MarshalJSON encodes an empty snapshot path as null
func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	return json.Marshal(struct {
		result
		SnapshotPath *string `json:"snapshotPath"`
	}{result(r), r.Snapshot()})
}

func (r Result) String() string {
	s := fmt.Sprintf("%s (%.2f%%)", r.Label, r.Confidence)
	switch {
	case r.Simulated && r.PlaceholderModel:
		s += " [simulated features, placeholder model]"
	case r.Simulated:
		s += " [simulated features]"
	case r.PlaceholderModel:
		s += " [placeholder model]"
	}
	return s
}
