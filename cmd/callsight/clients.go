package main

import (
	"github.com/callops/callsight/internal/analyze"
	"github.com/callops/callsight/internal/config"
	"github.com/callops/callsight/internal/embed"
	"github.com/callops/callsight/internal/transcribe"
)

func transcribePolicy(cfg config.Config) *transcribe.Policy {
	client := transcribe.NewClient(
		cfg.Transcribe.BaseURL,
		cfg.Transcribe.APIKey,
		cfg.Transcribe.Model,
		cfg.Transcribe.Language,
	)
	return transcribe.NewPolicy(client, cfg.Pipeline.TranscribeAttempts, cfg.Pipeline.RetryDelay)
}

func embedClient(cfg config.Config) *embed.Embedder {
	return embed.NewEmbedder(cfg.Embed.BaseURL, cfg.Embed.Model, cfg.Embed.Dimensions)
}

func analyzeClient(cfg config.Config) *analyze.Client {
	return analyze.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
}
