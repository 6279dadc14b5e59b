package grader

import (
	"fmt"
	"strings"

	"github.com/manthysbr/aula/internal/config"
	"github.com/manthysbr/aula/internal/core/ports"
)

// Build creates the primary grader and, when enabled, the degraded
// substitute, from grading configuration. It hides local/remote backend
// selection from callers.
func Build(cfg config.Grading) (primary ports.Grader, fallback ports.Grader, err error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "local":
		primary = NewOllamaGrader(strings.TrimSpace(cfg.LocalURL), cfg.Model, cfg.Temperature)
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, nil, fmt.Errorf("grader remote url is required when mode=remote")
		}
		primary = NewOpenAIGrader(strings.TrimSpace(cfg.RemoteURL), strings.TrimSpace(cfg.APIKey), cfg.Model, cfg.Temperature)
	default:
		return nil, nil, fmt.Errorf("unsupported grader mode: %s", cfg.Mode)
	}

	if cfg.EnableFallback {
		fallback = NewHeuristicGrader()
	}
	return primary, fallback, nil
}
