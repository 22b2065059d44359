package ml

import (
	"errors"
	"math"
	"math/rand"
)

// DecisionThreshold is the probability, in percent, above which a passenger
// is classified as a survivor.
const DecisionThreshold = 50.0

// Evaluation summarises a classifier on a labelled hold-out set. The
// positive class is label 1.
type Evaluation struct {
	Samples   int     `json:"samples"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	LogLoss   float64 `json:"log_loss"`
}

func Evaluate(model Classifier, names []string, features [][]float64, labels []int) (Evaluation, error) {
	if len(features) != len(labels) {
		return Evaluation{}, errors.New("features and labels size mismatch")
	}
	if len(features) == 0 {
		return Evaluation{}, nil
	}

	var correct, truePositive, predictedPositive, actualPositive int
	logLoss := 0.0
	for i, row := range features {
		probability, err := model.PredictProbability(names, row)
		if err != nil {
			return Evaluation{}, err
		}
		p := math.Min(math.Max(probability/100, 1e-15), 1-1e-15)
		label := 0
		if probability > DecisionThreshold {
			label = 1
		}

		if label == labels[i] {
			correct++
		}
		if label == 1 {
			predictedPositive++
		}
		if labels[i] == 1 {
			actualPositive++
			if label == 1 {
				truePositive++
			}
			logLoss -= math.Log(p)
		} else {
			logLoss -= math.Log(1 - p)
		}
	}

	eval := Evaluation{
		Samples:  len(features),
		Accuracy: float64(correct) / float64(len(features)),
		LogLoss:  logLoss / float64(len(features)),
	}
	if predictedPositive > 0 {
		eval.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		eval.Recall = float64(truePositive) / float64(actualPositive)
	}
	return eval, nil
}

// SplitDataset shuffles rows with a fixed seed and holds out testRatio of
// them. Ratios outside (0, 1) fall back to 0.2. The training part always
// keeps at least one row.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	if split < 1 {
		split = 1
	}
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}
