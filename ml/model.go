package ml

// Classifier predicts the probability, in percent, that a feature vector
// belongs to the positive class.
type Classifier interface {
	PredictProbability(names []string, features []float64) (float64, error)
	Save(path string) error
}
