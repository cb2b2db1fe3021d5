package stages

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"taxi-etl-pipeline/internal/model"
)

// trainFeatures are the model inputs, in column order.
var trainFeatures = []string{
	"trip_distance_km", "passenger_count", "pickup_hour",
	"pickup_dayofweek", "is_weekend", "is_rush_hour", "is_bad_weather",
}

// trainedModel is the persisted model artifact: a linear regressor over the
// trip features, stored as plain coefficients so any runtime can score it.
type trainedModel struct {
	TrainedAt    time.Time `json:"trained_at"`
	Seed         int64     `json:"seed"`
	Features     []string  `json:"features"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

// TrainModel fits a least-squares duration model on the enriched trips and
// evaluates it on a seeded hold-out split. The same interval always produces
// the same split, model and metrics.
func (e *Env) TrainModel(ctx context.Context, interval string) ([]string, error) {
	f, err := e.openArtifact(interval, ArtifactEnriched)
	if err != nil {
		return nil, err
	}
	recs, err := readEnrichedCSV(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if len(recs) < e.Cfg.MinTrainingRows {
		return nil, model.InsufficientDataErrorf(
			"have %d enriched rows, need at least %d to train", len(recs), e.Cfg.MinTrainingRows)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := make([][]float64, len(recs))
	target := make([]float64, len(recs))
	for i, r := range recs {
		features[i] = featureVector(r)
		target[i] = float64(r.DurationSec)
	}

	perm := rand.New(rand.NewSource(e.Cfg.Seed)).Perm(len(recs))
	cut := len(recs) - int(float64(len(recs))*e.Cfg.TestFraction)
	train, test := perm[:cut], perm[cut:]
	if len(train) == 0 || len(test) == 0 {
		return nil, model.InsufficientDataErrorf(
			"%d rows split %d train / %d test with test fraction %.2f; both sides must be non-empty",
			len(recs), len(train), len(test), e.Cfg.TestFraction)
	}

	intercept, coefs, err := fitLeastSquares(features, target, train)
	if err != nil {
		return nil, err
	}

	metrics := evaluate(features, target, test, intercept, coefs)
	metrics.TrainedAt = time.Now().UTC()
	metrics.TrainRows = len(train)
	metrics.TestRows = len(test)
	metrics.Seed = e.Cfg.Seed
	log.Printf("🤖 train_model: %d train / %d test rows, MAE %.1fs, RMSE %.1fs, R² %.3f",
		len(train), len(test), metrics.MAESeconds, metrics.RMSESeconds, metrics.R2Score)

	artifactModel := trainedModel{
		TrainedAt:    metrics.TrainedAt,
		Seed:         e.Cfg.Seed,
		Features:     trainFeatures,
		Intercept:    intercept,
		Coefficients: coefs,
	}
	if _, err := e.Artifacts.WriteJSON(interval, ArtifactModel, artifactModel); err != nil {
		return nil, err
	}
	if _, err := e.Artifacts.WriteJSON(interval, ArtifactMetrics, metrics); err != nil {
		return nil, err
	}
	return []string{ArtifactModel, ArtifactMetrics}, nil
}

func featureVector(r model.EnrichedRecord) []float64 {
	return []float64{
		r.DistanceKM,
		float64(r.PassengerCount),
		float64(r.PickupHour),
		float64(r.PickupDOW),
		float64(r.IsWeekend),
		float64(r.IsRushHour),
		float64(r.IsBadWeather),
	}
}

// fitLeastSquares solves the normal equations for a linear model with
// intercept over the given row subset.
func fitLeastSquares(x [][]float64, y []float64, rows []int) (float64, []float64, error) {
	k := len(trainFeatures) + 1 // leading intercept column

	// Accumulate XᵀX and Xᵀy.
	xtx := make([][]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	xty := make([]float64, k)
	row := make([]float64, k)
	for _, r := range rows {
		row[0] = 1
		copy(row[1:], x[r])
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				xtx[i][j] += row[i] * row[j]
			}
			xty[i] += row[i] * y[r]
		}
	}

	beta, err := solve(xtx, xty)
	if err != nil {
		return 0, nil, err
	}
	return beta[0], beta[1:], nil
}

// solve runs Gaussian elimination with partial pivoting on a (copy of a)
// square system.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64{}, a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("normal equations are singular at column %d (constant feature?)", col)
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	out := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := m[i][n]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * out[j]
		}
		out[i] = sum / m[i][i]
	}
	return out, nil
}

func predict(features []float64, intercept float64, coefs []float64) float64 {
	p := intercept
	for i, f := range features {
		p += coefs[i] * f
	}
	return p
}

// evaluate computes MAE, RMSE and R² over the hold-out rows, plus a simple
// importance score (normalized absolute coefficients).
func evaluate(x [][]float64, y []float64, rows []int, intercept float64, coefs []float64) model.ModelMetrics {
	var sumAbs, sumSq, sumY float64
	for _, r := range rows {
		diff := predict(x[r], intercept, coefs) - y[r]
		sumAbs += math.Abs(diff)
		sumSq += diff * diff
		sumY += y[r]
	}
	n := float64(len(rows))
	meanY := sumY / n

	var ssTot float64
	for _, r := range rows {
		d := y[r] - meanY
		ssTot += d * d
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - sumSq/ssTot
	}

	var coefSum float64
	for _, c := range coefs {
		coefSum += math.Abs(c)
	}
	importances := make(map[string]float64, len(coefs))
	for i, name := range trainFeatures {
		if coefSum > 0 {
			importances[name] = math.Abs(coefs[i]) / coefSum
		} else {
			importances[name] = 0
		}
	}

	return model.ModelMetrics{
		MAESeconds:         sumAbs / n,
		RMSESeconds:        math.Sqrt(sumSq / n),
		R2Score:            r2,
		FeatureImportances: importances,
	}
}
