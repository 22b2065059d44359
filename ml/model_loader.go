package ml

import (
	"fmt"
)

// LoadModel reads a classifier previously written with Save.
func LoadModel(modelType, path string) (Classifier, error) {
	switch modelType {
	case ModelTypeLogistic, "":
		return LoadLogistic(path)
	case ModelTypeDecisionTree:
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}
