package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSchemaMismatch is returned when a query's feature names, order or
	// length differ from the schema the model was trained on.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidTrainingData is returned for malformed matrices handed to a fitter.
	ErrInvalidTrainingData = errors.New("invalid training data")
	// ErrNotTrained is returned when predicting with an empty model.
	ErrNotTrained = errors.New("model not trained")
)

// ModelTypeLogistic identifies logistic regression weights on disk.
const ModelTypeLogistic = "logistic_regression"

// SolverConfig controls the Newton solver.
type SolverConfig struct {
	MaxIter   int     `json:"max_iter"`
	C         float64 `json:"c"`
	Tolerance float64 `json:"tolerance"`
}

// DefaultSolverConfig matches the usual library defaults: L2 penalty with
// C=1, at most 1000 iterations.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MaxIter:   1000,
		C:         1.0,
		Tolerance: 1e-4,
	}
}

func (c SolverConfig) withDefaults() SolverConfig {
	defaults := DefaultSolverConfig()
	if c.MaxIter <= 0 {
		c.MaxIter = defaults.MaxIter
	}
	if c.C <= 0 {
		c.C = defaults.C
	}
	if c.Tolerance <= 0 {
		c.Tolerance = defaults.Tolerance
	}
	return c
}

// Coefficient is the fitted weight of one feature.
type Coefficient struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// LogisticModel is a fitted binary logistic regression. It is never mutated
// after FitLogistic returns and may be shared between goroutines.
type LogisticModel struct {
	features     []string
	coefficients []float64
	intercept    float64
	iterations   int
	converged    bool
	solver       SolverConfig
}

// FitLogistic fits P(y=1|x) = sigmoid(w·x+b) by minimising the L2-penalised
// negative log-likelihood with iteratively reweighted least squares. The
// intercept is not penalised. When MaxIter is reached before the step falls
// under Tolerance the best iterate is returned with Converged() == false.
func FitLogistic(features [][]float64, labels []int, names []string, config SolverConfig) (*LogisticModel, error) {
	if err := validateTrainingData(features, labels, names); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	rows := len(features)
	params := len(names) + 1
	lambda := 1 / config.C

	design := mat.NewDense(rows, params, nil)
	target := mat.NewVecDense(rows, nil)
	for i, row := range features {
		design.Set(i, 0, 1)
		for j, value := range row {
			design.Set(i, j+1, value)
		}
		target.SetVec(i, float64(labels[i]))
	}

	beta := mat.NewVecDense(params, nil)
	objective := penalisedLoss(design, target, beta, lambda)

	model := &LogisticModel{
		features: append([]string(nil), names...),
		solver:   config,
	}

	scores := mat.NewVecDense(rows, nil)
	residual := mat.NewVecDense(rows, nil)
	weighted := mat.NewDense(rows, params, nil)
	grad := mat.NewVecDense(params, nil)
	step := mat.NewVecDense(params, nil)
	hess := mat.NewSymDense(params, nil)

	for iter := 1; iter <= config.MaxIter; iter++ {
		model.iterations = iter

		scores.MulVec(design, beta)
		for i := 0; i < rows; i++ {
			p := sigmoid(scores.AtVec(i))
			residual.SetVec(i, p-target.AtVec(i))
			w := math.Sqrt(math.Max(p*(1-p), 1e-10))
			for j := 0; j < params; j++ {
				weighted.Set(i, j, design.At(i, j)*w)
			}
		}

		grad.MulVec(design.T(), residual)
		hess.SymOuterK(1, weighted.T())
		for j := 0; j < params; j++ {
			penalty := 1e-9
			if j > 0 {
				penalty += lambda
				grad.SetVec(j, grad.AtVec(j)+lambda*beta.AtVec(j))
			}
			hess.SetSym(j, j, hess.At(j, j)+penalty)
		}

		if err := solveNewton(hess, grad, step); err != nil {
			return nil, fmt.Errorf("newton step at iteration %d: %w", iter, err)
		}

		candidate, loss, scale, ok := lineSearch(design, target, beta, step, lambda, objective)
		if !ok {
			// no descent along the Newton direction: beta is already optimal
			// to machine precision.
			model.converged = true
			break
		}
		beta = candidate
		objective = loss

		if scale*mat.Norm(step, math.Inf(1)) < config.Tolerance {
			model.converged = true
			break
		}
	}

	model.intercept = beta.AtVec(0)
	model.coefficients = make([]float64, len(names))
	for j := range names {
		model.coefficients[j] = beta.AtVec(j + 1)
	}
	return model, nil
}

func validateTrainingData(features [][]float64, labels []int, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no feature names", ErrInvalidTrainingData)
	}
	if len(features) == 0 || len(labels) == 0 {
		return fmt.Errorf("%w: features or labels empty", ErrInvalidTrainingData)
	}
	if len(features) != len(labels) {
		return fmt.Errorf("%w: %d rows but %d labels", ErrInvalidTrainingData, len(features), len(labels))
	}
	for i, row := range features {
		if len(row) != len(names) {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrInvalidTrainingData, i, len(row), len(names))
		}
		for _, value := range row {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return fmt.Errorf("%w: row %d has a non-finite value", ErrInvalidTrainingData, i)
			}
		}
		if labels[i] != 0 && labels[i] != 1 {
			return fmt.Errorf("%w: label %d at row %d is not binary", ErrInvalidTrainingData, labels[i], i)
		}
	}
	return nil
}

func solveNewton(hess *mat.SymDense, grad, step *mat.VecDense) error {
	var chol mat.Cholesky
	if chol.Factorize(hess) {
		return chol.SolveVecTo(step, grad)
	}
	return step.SolveVec(hess, grad)
}

// lineSearch halves the Newton step until the penalised loss does not increase.
func lineSearch(design *mat.Dense, target, beta, step *mat.VecDense, lambda, current float64) (*mat.VecDense, float64, float64, bool) {
	scale := 1.0
	for k := 0; k < 40; k++ {
		candidate := mat.NewVecDense(beta.Len(), nil)
		candidate.AddScaledVec(beta, -scale, step)
		loss := penalisedLoss(design, target, candidate, lambda)
		if loss <= current {
			return candidate, loss, scale, true
		}
		scale /= 2
	}
	return nil, current, 0, false
}

func penalisedLoss(design *mat.Dense, target, beta *mat.VecDense, lambda float64) float64 {
	rows, _ := design.Dims()
	scores := mat.NewVecDense(rows, nil)
	scores.MulVec(design, beta)

	loss := 0.0
	for i := 0; i < rows; i++ {
		z := scores.AtVec(i)
		loss += logOnePlusExp(z) - target.AtVec(i)*z
	}
	for j := 1; j < beta.Len(); j++ {
		loss += 0.5 * lambda * beta.AtVec(j) * beta.AtVec(j)
	}
	return loss
}

func logOnePlusExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// PredictProbability returns the survival probability of x as a percentage
// in [0, 100]. names must equal the training schema exactly.
func (m *LogisticModel) PredictProbability(names []string, x []float64) (float64, error) {
	if m == nil || len(m.coefficients) == 0 {
		return 0, ErrNotTrained
	}
	if err := checkSchema(m.features, names, x); err != nil {
		return 0, err
	}
	z := m.intercept
	for j, weight := range m.coefficients {
		z += weight * x[j]
	}
	return sigmoid(z) * 100, nil
}

func checkSchema(trained, names []string, x []float64) error {
	if len(names) != len(trained) {
		return fmt.Errorf("%w: got %d features, model has %d", ErrSchemaMismatch, len(names), len(trained))
	}
	for i := range trained {
		if names[i] != trained[i] {
			return fmt.Errorf("%w: feature %d is %q, model expects %q", ErrSchemaMismatch, i, names[i], trained[i])
		}
	}
	if len(x) != len(trained) {
		return fmt.Errorf("%w: vector has %d values, model has %d features", ErrSchemaMismatch, len(x), len(trained))
	}
	return nil
}

// Coefficients returns the fitted weights in schema order.
func (m *LogisticModel) Coefficients() []Coefficient {
	result := make([]Coefficient, len(m.coefficients))
	for i, weight := range m.coefficients {
		result[i] = Coefficient{Feature: m.features[i], Weight: weight}
	}
	return result
}

// Weight returns the coefficient of a named feature.
func (m *LogisticModel) Weight(feature string) (float64, bool) {
	for i, name := range m.features {
		if name == feature {
			return m.coefficients[i], true
		}
	}
	return 0, false
}

func (m *LogisticModel) Intercept() float64 { return m.intercept }

func (m *LogisticModel) Iterations() int { return m.iterations }

func (m *LogisticModel) Converged() bool { return m.converged }

func (m *LogisticModel) Solver() SolverConfig { return m.solver }

func (m *LogisticModel) Features() []string { return append([]string(nil), m.features...) }

type logisticWeights struct {
	ModelType    string       `json:"model_type"`
	Features     []string     `json:"features"`
	Coefficients []float64    `json:"coefficients"`
	Intercept    float64      `json:"intercept"`
	Iterations   int          `json:"iterations"`
	Converged    bool         `json:"converged"`
	Solver       SolverConfig `json:"solver"`
}

func (m *LogisticModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(logisticWeights{
		ModelType:    ModelTypeLogistic,
		Features:     m.features,
		Coefficients: m.coefficients,
		Intercept:    m.intercept,
		Iterations:   m.iterations,
		Converged:    m.converged,
		Solver:       m.solver,
	})
}

func (m *LogisticModel) UnmarshalJSON(data []byte) error {
	var weights logisticWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return err
	}
	if weights.ModelType != "" && weights.ModelType != ModelTypeLogistic {
		return fmt.Errorf("unexpected model type %q", weights.ModelType)
	}
	if len(weights.Features) == 0 || len(weights.Features) != len(weights.Coefficients) {
		return fmt.Errorf("%w: %d features for %d coefficients", ErrSchemaMismatch, len(weights.Features), len(weights.Coefficients))
	}
	*m = LogisticModel{
		features:     weights.Features,
		coefficients: weights.Coefficients,
		intercept:    weights.Intercept,
		iterations:   weights.Iterations,
		converged:    weights.Converged,
		solver:       weights.Solver,
	}
	return nil
}

// Save writes the fitted weights as JSON.
func (m *LogisticModel) Save(path string) error {
	if m == nil || len(m.coefficients) == 0 {
		return ErrNotTrained
	}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadLogistic reads weights written by Save.
func LoadLogistic(path string) (*LogisticModel, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	model := &LogisticModel{}
	if err := json.Unmarshal(payload, model); err != nil {
		return nil, err
	}
	return model, nil
}
