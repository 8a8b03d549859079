package scoring

import (
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"guardbot/internal/features"
)

// The model and scaler are external fitted artifacts; a vector they
// were not fitted for is unrecoverable without retraining, so every
// hard failure scores as the conservative non-spam default.
const conservativeDefault = 0.0

// nanSentinel replaces an allowed unknown feature. It sits outside the
// scaled value range of every observed feature, so the classifier
// learns a distinct response for "unknown".
const nanSentinel = -1.0

// classifierArtifact is the trained logistic classifier as written by
// the external training job.
type classifierArtifact struct {
	FeatureVersion int       `json:"feature_version"`
	Weights        []float64 `json:"weights"`
	Intercept      float64   `json:"intercept"`
	NaNPositions   []int     `json:"nan_positions"`
}

// scalerArtifact is the fitted per-feature standard scaler.
type scalerArtifact struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Scorer scores a feature vector against the loaded artifacts. It is
// loaded once at process start and immutable afterwards; replacing the
// artifact files requires a restart.
type Scorer struct {
	weights    []float64
	intercept  float64
	mean       []float64
	scale      []float64
	nanAllowed map[int]bool
	logger     *zap.Logger
}

// LoadScorer reads the classifier and scaler artifacts and validates
// that they agree with each other and with the feature contract.
func LoadScorer(classifierPath, scalerPath string, logger *zap.Logger) (*Scorer, error) {
	var clf classifierArtifact
	if err := readArtifact(classifierPath, &clf); err != nil {
		return nil, fmt.Errorf("failed to load classifier: %w", err)
	}
	var scl scalerArtifact
	if err := readArtifact(scalerPath, &scl); err != nil {
		return nil, fmt.Errorf("failed to load scaler: %w", err)
	}

	if clf.FeatureVersion != features.Version {
		return nil, fmt.Errorf("classifier was trained for feature version %d, this build produces %d",
			clf.FeatureVersion, features.Version)
	}
	if len(clf.Weights) == 0 {
		return nil, fmt.Errorf("classifier has no weights")
	}
	if len(scl.Mean) != len(clf.Weights) || len(scl.Scale) != len(clf.Weights) {
		return nil, fmt.Errorf("scaler shape %d/%d does not match classifier shape %d",
			len(scl.Mean), len(scl.Scale), len(clf.Weights))
	}

	nanAllowed := make(map[int]bool, len(clf.NaNPositions))
	for _, pos := range clf.NaNPositions {
		if pos < 0 || pos >= len(clf.Weights) {
			return nil, fmt.Errorf("nan position %d out of range for %d features", pos, len(clf.Weights))
		}
		nanAllowed[pos] = true
	}

	logger.Info("Scorer artifacts loaded",
		zap.String("classifier", classifierPath),
		zap.String("scaler", scalerPath),
		zap.Int("features", len(clf.Weights)),
		zap.Int("nan_positions", len(clf.NaNPositions)))

	return &Scorer{
		weights:    clf.Weights,
		intercept:  clf.Intercept,
		mean:       scl.Mean,
		scale:      scl.Scale,
		nanAllowed: nanAllowed,
		logger:     logger,
	}, nil
}

// VectorLen is the exact vector length the artifacts were fitted for.
func (s *Scorer) VectorLen() int {
	return len(s.weights)
}

// Score applies the fitted scaling transform and returns the
// probability of the positive ("is spam") class. A shape mismatch or
// a NaN in a position the model was not trained to treat as unknown
// returns the conservative non-spam default.
func (s *Scorer) Score(vec []float64) float64 {
	if len(vec) != len(s.weights) {
		s.logger.Error("Feature vector shape mismatch",
			zap.Int("got", len(vec)), zap.Int("expected", len(s.weights)))
		return conservativeDefault
	}

	z := s.intercept
	for i, x := range vec {
		var scaled float64
		switch {
		case math.IsNaN(x) && s.nanAllowed[i]:
			scaled = nanSentinel
		case math.IsNaN(x):
			s.logger.Error("Unknown value in a feature position the model does not support",
				zap.Int("position", i))
			return conservativeDefault
		case s.scale[i] == 0:
			scaled = 0
		default:
			scaled = (x - s.mean[i]) / s.scale[i]
		}
		z += s.weights[i] * scaled
	}

	return 1.0 / (1.0 + math.Exp(-z))
}

func readArtifact(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
