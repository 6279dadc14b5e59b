package grader

import "github.com/manthysbr/aula/internal/config"

func configFor(mode, remoteURL string, fallback bool) config.Grading {
	return config.Grading{
		Mode:           mode,
		LocalURL:       "http://localhost:11434",
		RemoteURL:      remoteURL,
		Model:          "grader-1",
		Temperature:    0.2,
		EnableFallback: fallback,
	}
}
