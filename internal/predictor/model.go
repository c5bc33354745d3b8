package predictor

import "fmt"

// ridgeLambda is the L2 penalty added to the normal equations' diagonal
// (the intercept excluded). The 21-wide feature vector includes several
// correlated window-statistic columns (mean/max/slope over the same
// metric), which makes XtX ill-conditioned on short training windows;
// ridge keeps the solve stable without needing a separate conditioning
// check.
const ridgeLambda = 0.01

// LinearModel is ridge-regularized least squares fit by the normal
// equations: beta = (XtX + lambda*I)^-1 Xt y. This is the one component of
// the core built on the standard library rather than a third-party
// dependency — there is no ML or linear-algebra library anywhere in the
// retrieval pack, and pulling one in for a single regularized OLS fit over
// a ~20-wide feature vector would be a disproportionate dependency for
// what a direct Gauss-Jordan solve covers in under 60 lines.
type LinearModel struct {
	trained bool
	beta    []float64 // beta[0] is the intercept
}

// Fit trains the model on rows of features (each already featureCount+1
// wide is NOT required — bias is added internally) against targets.
func (m *LinearModel) Fit(features []FeatureVector, targets []float64) error {
	n := len(features)
	if n == 0 || n != len(targets) {
		return fmt.Errorf("fit: mismatched or empty training data (%d features, %d targets)", n, len(targets))
	}
	p := len(features[0]) + 1 // +1 for intercept

	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
	}
	xty := make([]float64, p)

	for i := 0; i < n; i++ {
		row := append([]float64{1}, features[i]...)
		for a := 0; a < p; a++ {
			xty[a] += row[a] * targets[i]
			for b := 0; b < p; b++ {
				xtx[a][b] += row[a] * row[b]
			}
		}
	}

	// Ridge penalty on every coefficient except the intercept (index 0).
	for a := 1; a < p; a++ {
		xtx[a][a] += ridgeLambda
	}

	beta, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	m.beta = beta
	m.trained = true
	return nil
}

// Predict returns the model's point estimate for one feature vector.
// Returns an error if the model hasn't been fit yet.
func (m *LinearModel) Predict(x FeatureVector) (float64, error) {
	if !m.trained {
		return 0, fmt.Errorf("predict: model untrained")
	}
	y := m.beta[0]
	for i, v := range x {
		y += m.beta[i+1] * v
	}
	return y, nil
}

// Trained reports whether Fit has succeeded at least once.
func (m *LinearModel) Trained() bool { return m.trained }

// solveLinearSystem solves Ax = b via Gauss-Jordan elimination with
// partial pivoting. It works on an augmented copy, so A and b are left
// unchanged.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	aug := make([][]float64, n)
	for i := range a {
		aug[i] = append(append([]float64{}, a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if abs(aug[row][col]) > abs(aug[pivot][col]) {
				pivot = row
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		if abs(aug[col][col]) < 1e-12 {
			// Singular in this dimension — treat as no contribution so a
			// degenerate (e.g. constant) feature column doesn't blow up
			// the whole fit.
			aug[col][col] = 1e-12
		}

		pivotVal := aug[col][col]
		for k := col; k <= n; k++ {
			aug[col][k] /= pivotVal
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			for k := col; k <= n; k++ {
				aug[row][k] -= factor * aug[col][k]
			}
		}
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = aug[i][n]
	}
	return x, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
