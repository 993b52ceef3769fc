package ollama

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

var familyRe = regexp.MustCompile(`^([a-zA-Z0-9]+)`)

// Catalog returns a synthetic catalog entry for every enabled model name.
// Output depends only on the names and now.
func Catalog(names []string, now time.Time) TagsResponse {
	models := make([]Model, 0, len(names))
	for _, name := range names {
		models = append(models, catalogEntry(name, now))
	}
	return TagsResponse{Models: models}
}

func catalogEntry(name string, now time.Time) Model {
	family := "unknown"
	if m := familyRe.FindStringSubmatch(name); m != nil {
		family = m[1]
	}

	format, size, params, quant := "unknown", int64(9876543210), "unknown", "unknown"
	switch {
	case strings.Contains(name, "llama"):
		format, size, params, quant = "gguf", 1234567890, "405B", "Q4_0"
	case strings.Contains(name, "mistral"):
		format, size = "gguf", 1234567890
	}

	sum := sha256.Sum256([]byte(name))
	return Model{
		Name:       name,
		Model:      name,
		ModifiedAt: now.UTC().Format(time.RFC3339),
		Size:       size,
		Digest:     hex.EncodeToString(sum[:]),
		Details: ModelDetails{
			Format:            format,
			Family:            family,
			Families:          []string{family},
			ParameterSize:     params,
			QuantizationLevel: quant,
		},
	}
}
