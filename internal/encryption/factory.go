package encryption

import (
	"fmt"

	"storyfs/internal/config"
	"storyfs/internal/story"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
func NewSealerFromConfig(cfg config.EncryptionConfig) (story.Sealer, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeSealer(cfg), nil
	case "none":
		return PlainSealer{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
