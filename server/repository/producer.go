package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wavehq/wavechat/server/usecase"
)

// cannedProducer is the built-in AI producer: it streams a templated reply
// word by word so the service runs standalone. Real backends implement
// usecase.AIProducer and are swapped in at wiring time.
type cannedProducer struct {
	chunkDelay time.Duration
}

func NewCannedProducer(chunkDelay time.Duration) usecase.AIProducer {
	return &cannedProducer{chunkDelay: chunkDelay}
}

func (p *cannedProducer) Generate(ctx context.Context, query, aiType string, cb usecase.StreamCallbacks) error {
	if cb.OnStart != nil {
		cb.OnStart()
	}

	reply := fmt.Sprintf("I am %s. You asked: %q. A production language-model backend replaces this placeholder response.", aiType, query)
	words := strings.Fields(reply)

	var b strings.Builder
	for i, word := range words {
		select {
		case <-ctx.Done():
			if cb.OnError != nil {
				cb.OnError(ctx.Err())
			}
			return ctx.Err()
		case <-time.After(p.chunkDelay):
		}
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(word)
		if cb.OnChunk != nil {
			chunk := word
			if i > 0 {
				chunk = " " + word
			}
			cb.OnChunk(chunk)
		}
	}

	if cb.OnComplete != nil {
		cb.OnComplete(usecase.GenerationResult{
			Content:          b.String(),
			CompletionTokens: len(words),
			TotalTokens:      len(words) + len(strings.Fields(query)),
		})
	}
	return nil
}
