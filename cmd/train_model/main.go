package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"titanic/config"
	"titanic/dataset"
	"titanic/logging"
	"titanic/ml"
	"titanic/passenger"
)

func main() {
	defaults := config.Default()
	source := flag.String("source", defaults.Dataset.Source, "dataset: builtin:<name>, file path or http(s) URL")
	encoding := flag.String("encoding", "", "dataset character encoding (default utf-8)")
	timeout := flag.Duration("timeout", defaults.Dataset.FetchTimeout, "remote fetch timeout")
	maxIter := flag.Int("max_iter", defaults.Model.MaxIter, "solver iteration cap")
	c := flag.Float64("c", defaults.Model.C, "inverse regularisation strength")
	testRatio := flag.Float64("test_ratio", defaults.Model.TestRatio, "hold-out ratio")
	seed := flag.Int64("seed", defaults.Model.Seed, "shuffle seed for the split")
	modelPath := flag.String("model_path", "./models/logistic.json", "model output path")
	exportPath := flag.String("export", "", "write the cleaned training set as CSV")
	baselineDepth := flag.Int("baseline_depth", 4, "decision tree baseline depth, 0 to skip")
	flag.Parse()

	logger, err := logging.New(config.LogConfig{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	src, err := dataset.ParseSource(*source)
	if err != nil {
		logger.Fatal("invalid source", zap.Error(err))
	}
	result, err := dataset.Load(context.Background(), src, dataset.Options{
		Encoding: *encoding,
		Timeout:  *timeout,
		Logger:   logger.Named("dataset"),
	})
	if err != nil {
		logger.Fatal("failed to load dataset", zap.Error(err))
	}

	if *exportPath != "" {
		if err := exportTrainingSet(*exportPath, result.TrainingSet); err != nil {
			logger.Fatal("failed to export training set", zap.Error(err))
		}
		fmt.Printf("training set exported to %s\n", *exportPath)
	}

	features, labels := result.TrainingSet.Matrix()
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, *testRatio, *seed)

	start := time.Now()
	model, err := ml.FitLogistic(trainX, trainY, passenger.FeatureNames, ml.SolverConfig{MaxIter: *maxIter, C: *c, Tolerance: defaults.Model.Tolerance})
	if err != nil {
		logger.Fatal("failed to fit model", zap.Error(err))
	}
	if !model.Converged() {
		logger.Warn("solver did not converge", zap.Int("iterations", model.Iterations()))
	}
	logger.Info("model fitted", zap.Int("rows", len(trainX)), zap.Int("dropped", result.Dropped()), zap.Duration("elapsed", time.Since(start)))

	fmt.Printf("rows=%d dropped=%d train=%d test=%d\n", result.RawRows, result.Dropped(), len(trainX), len(testX))
	fmt.Printf("iterations=%d converged=%v intercept=%.4f\n", model.Iterations(), model.Converged(), model.Intercept())
	for _, coef := range model.Coefficients() {
		fmt.Printf("  %-7s %+.4f\n", coef.Feature, coef.Weight)
	}
	report("logistic", model, testX, testY, logger)

	if *baselineDepth > 0 {
		tree := ml.NewDecisionTree(passenger.FeatureNames)
		if err := tree.Train(trainX, trainY, *baselineDepth); err != nil {
			logger.Fatal("failed to train baseline", zap.Error(err))
		}
		report(fmt.Sprintf("tree(depth=%d)", tree.Depth()), tree, testX, testY, logger)
	}

	if err := os.MkdirAll(filepath.Dir(*modelPath), 0o755); err != nil {
		logger.Fatal("failed to create model dir", zap.Error(err))
	}
	if err := model.Save(*modelPath); err != nil {
		logger.Fatal("failed to save model", zap.Error(err))
	}
	fmt.Printf("model saved to %s\n", *modelPath)
}

func report(name string, model ml.Classifier, testX [][]float64, testY []int, logger *zap.Logger) {
	eval, err := ml.Evaluate(model, passenger.FeatureNames, testX, testY)
	if err != nil {
		logger.Fatal("failed to evaluate", zap.String("model", name), zap.Error(err))
	}
	fmt.Printf("%-16s accuracy=%.2f precision=%.2f recall=%.2f log_loss=%.3f (n=%d)\n",
		name, eval.Accuracy, eval.Precision, eval.Recall, eval.LogLoss, eval.Samples)
}

func exportTrainingSet(path string, set *passenger.TrainingSet) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dataset.ExportCSV(file, set); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
