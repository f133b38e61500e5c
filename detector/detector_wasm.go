//go:build js && wasm

package detector

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/openfluke/radix/radixsort"
)

var errNoProbe = errors.New("detector: adapter probing is not available in wasm builds")

// DetectJSON reports the probe error as a JSON object so callers that only
// print the result still get something readable.
func DetectJSON() (string, error) {
	data, err := json.Marshal(map[string]string{"error": errNoProbe.Error()})
	if err != nil {
		return "", err
	}
	return string(data), errNoProbe
}

// Detect returns a report with the budget and runtime filled in but no
// adapter information or recommendations.
func Detect() (*Report, error) {
	budget := budgetFromEnv()
	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Recommended: Recommendations{BitStep: radixsort.DefaultBitStep, BudgetBytes: budget},
		Env:         pickEnv([]string{budgetEnv}),
	}, errNoProbe
}
