package main

import (
	"github.com/opensource-finance/callshield/internal/capture"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/session"
)

// buildSources registers the session sources this deployment can serve.
// "push" takes fragments over the API, "simulated" replays the demo scam
// call, and "websocket" is only offered when a transcription service is set.
func buildSources(cfg *domain.Config) map[string]session.Source {
	sources := map[string]session.Source{
		"push": {
			Audio:       capture.NoAudio{},
			Transcriber: capture.Push{},
		},
		"simulated": {
			Audio: capture.NoAudio{},
			Transcriber: &capture.Scripted{
				Lines: capture.DemoScript(),
				Delay: cfg.Session.SimulatedLineDelay,
			},
		},
	}

	if t := cfg.Transcription; t.WebSocketURL != "" {
		var audio domain.AudioCapture = capture.NoAudio{}
		if t.AudioPath != "" {
			audio = capture.FileAudio{Path: t.AudioPath}
		}
		sources["websocket"] = session.Source{
			Audio: audio,
			Transcriber: &capture.WebSocket{
				URL:        t.WebSocketURL,
				APIKey:     t.APIKey,
				Model:      t.Model,
				Language:   t.Language,
				SampleRate: t.SampleRate,
			},
		}
	}
	return sources
}
