package cli

import (
	"fmt"
	"os"

	"github.com/roach88/stepflow/internal/canon"
)

// loadSpecFile reads and decodes a problem spec JSON file into a raw
// mapping. Decoding is strict: duplicate keys are rejected.
func loadSpecFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	v, err := canon.Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("spec file %s must contain a JSON object", path)
	}
	return obj, nil
}
