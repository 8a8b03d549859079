package scoring

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeArtifacts(t *testing.T, classifier, scaler string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	clfPath := filepath.Join(dir, "classifier.json")
	sclPath := filepath.Join(dir, "scaler.json")
	if err := os.WriteFile(clfPath, []byte(classifier), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sclPath, []byte(scaler), 0o644); err != nil {
		t.Fatal(err)
	}
	return clfPath, sclPath
}

func loadTestScorer(t *testing.T, classifier, scaler string) *Scorer {
	t.Helper()
	clfPath, sclPath := writeArtifacts(t, classifier, scaler)
	s, err := LoadScorer(clfPath, sclPath, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadScorer failed: %v", err)
	}
	return s
}

func TestScoreStandardScalingAndSigmoid(t *testing.T) {
	s := loadTestScorer(t,
		`{"feature_version":1,"weights":[2.0,1.0],"intercept":0.5,"nan_positions":[]}`,
		`{"mean":[1.0,3.0],"scale":[2.0,1.0]}`)

	// x = [3, 4]: scaled = [(3-1)/2, (4-3)/1] = [1, 1]
	// z = 0.5 + 2*1 + 1*1 = 3.5
	got := s.Score([]float64{3, 4})
	want := 1.0 / (1.0 + math.Exp(-3.5))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestScoreZeroScaleContributesNothing(t *testing.T) {
	s := loadTestScorer(t,
		`{"feature_version":1,"weights":[5.0,1.0],"intercept":0,"nan_positions":[]}`,
		`{"mean":[10.0,0.0],"scale":[0.0,1.0]}`)

	// Feature 0 has zero variance in training; its scaled value is 0
	// regardless of input.
	got := s.Score([]float64{12345, 2})
	want := 1.0 / (1.0 + math.Exp(-2.0))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestScoreShapeMismatchIsConservative(t *testing.T) {
	s := loadTestScorer(t,
		`{"feature_version":1,"weights":[1.0,1.0],"intercept":0,"nan_positions":[]}`,
		`{"mean":[0,0],"scale":[1,1]}`)

	if got := s.Score([]float64{1, 2, 3}); got != 0.0 {
		t.Errorf("Score on wrong shape = %v, want conservative 0.0", got)
	}
	if got := s.Score(nil); got != 0.0 {
		t.Errorf("Score on nil vector = %v, want conservative 0.0", got)
	}
}

func TestScoreNaNHandling(t *testing.T) {
	s := loadTestScorer(t,
		`{"feature_version":1,"weights":[1.0,2.0],"intercept":0,"nan_positions":[1]}`,
		`{"mean":[0.0,100.0],"scale":[1.0,50.0]}`)

	t.Run("allowed position becomes the sentinel", func(t *testing.T) {
		// Position 1 unknown: sentinel -1 bypasses scaling.
		// z = 1*0 + 2*(-1) = -2
		got := s.Score([]float64{0, math.NaN()})
		want := 1.0 / (1.0 + math.Exp(2.0))
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("Score = %v, want %v", got, want)
		}
	})

	t.Run("disallowed position is conservative", func(t *testing.T) {
		if got := s.Score([]float64{math.NaN(), 0}); got != 0.0 {
			t.Errorf("Score = %v, want conservative 0.0", got)
		}
	})
}

func TestLoadScorerRejectsBadArtifacts(t *testing.T) {
	logger := zap.NewNop()

	t.Run("feature version mismatch", func(t *testing.T) {
		clf, scl := writeArtifacts(t,
			`{"feature_version":99,"weights":[1.0],"intercept":0,"nan_positions":[]}`,
			`{"mean":[0],"scale":[1]}`)
		if _, err := LoadScorer(clf, scl, logger); err == nil {
			t.Fatal("expected error for wrong feature version")
		}
	})

	t.Run("scaler shape mismatch", func(t *testing.T) {
		clf, scl := writeArtifacts(t,
			`{"feature_version":1,"weights":[1.0,2.0],"intercept":0,"nan_positions":[]}`,
			`{"mean":[0],"scale":[1]}`)
		if _, err := LoadScorer(clf, scl, logger); err == nil {
			t.Fatal("expected error for scaler/classifier shape mismatch")
		}
	})

	t.Run("nan position out of range", func(t *testing.T) {
		clf, scl := writeArtifacts(t,
			`{"feature_version":1,"weights":[1.0],"intercept":0,"nan_positions":[5]}`,
			`{"mean":[0],"scale":[1]}`)
		if _, err := LoadScorer(clf, scl, logger); err == nil {
			t.Fatal("expected error for out-of-range nan position")
		}
	})

	t.Run("empty weights", func(t *testing.T) {
		clf, scl := writeArtifacts(t,
			`{"feature_version":1,"weights":[],"intercept":0,"nan_positions":[]}`,
			`{"mean":[],"scale":[]}`)
		if _, err := LoadScorer(clf, scl, logger); err == nil {
			t.Fatal("expected error for empty weights")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadScorer("no/such/classifier.json", "no/such/scaler.json", logger); err == nil {
			t.Fatal("expected error for missing artifact file")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		clf, scl := writeArtifacts(t, `{not json`, `{"mean":[0],"scale":[1]}`)
		if _, err := LoadScorer(clf, scl, logger); err == nil {
			t.Fatal("expected error for malformed classifier json")
		}
	})
}
