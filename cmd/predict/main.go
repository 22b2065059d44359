package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"titanic/config"
	"titanic/dataset"
	"titanic/logging"
	"titanic/ml"
	"titanic/passenger"
	"titanic/predictor"
)

func main() {
	defaults := passenger.DefaultQuery()
	configPath := flag.String("config", "", "config file (default: built-in settings)")
	modelPath := flag.String("model_path", "", "prebuilt model written by train_model; fits from the dataset when empty")
	pclass := flag.Int("pclass", defaults.TicketClass, "ticket class 1, 2 or 3")
	sex := flag.String("sex", defaults.Sex, "male or female")
	age := flag.Float64("age", defaults.Age, "age in years, 0-100")
	fare := flag.Float64("fare", defaults.Fare, "fare paid, 0-500")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Log.File = ""
	cfg.Log.Level = "warn"
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	query := passenger.Query{TicketClass: *pclass, Sex: *sex, Age: *age, Fare: *fare}

	var probability float64
	var survived bool
	if *modelPath != "" {
		probability, err = predictFromFile(*modelPath, query)
		survived = probability > ml.DecisionThreshold
	} else {
		var prediction predictor.Prediction
		prediction, err = predictFromDataset(cfg, query, logger)
		probability, survived = prediction.RawProbability, prediction.Survived
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "prediction failed: %v\n", err)
		if errors.Is(err, passenger.ErrInvalidQuery) || errors.Is(err, passenger.ErrDataError) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	verdict := predictor.VerdictNotSurvived
	if survived {
		verdict = predictor.VerdictSurvived
	}
	fmt.Printf("Survival Probability: %.1f%%\n%s\n", probability, verdict)
}

func predictFromFile(path string, query passenger.Query) (float64, error) {
	model, err := ml.LoadModel(ml.ModelTypeLogistic, path)
	if err != nil {
		return 0, err
	}
	vector, err := query.FeatureVector()
	if err != nil {
		return 0, err
	}
	return model.PredictProbability(passenger.FeatureNames, vector)
}

func predictFromDataset(cfg *config.Config, query passenger.Query, logger *zap.Logger) (predictor.Prediction, error) {
	src, err := dataset.ParseSource(cfg.Dataset.Source)
	if err != nil {
		return predictor.Prediction{}, err
	}
	service := predictor.New(predictor.DatasetLoader(src, dataset.Options{
		Encoding: cfg.Dataset.Encoding,
		Timeout:  cfg.Dataset.FetchTimeout,
		Logger:   logger.Named("dataset"),
	}), predictor.Options{
		Solver:    cfg.Solver(),
		TestRatio: cfg.Model.TestRatio,
		Seed:      cfg.Model.Seed,
		Logger:    logger.Named("predictor"),
	})
	return service.Predict(context.Background(), query)
}
