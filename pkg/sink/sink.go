// Package sink implements the Sink component (spec §2, §4): the external
// collaborator that receives source-turn and translated-turn updates for
// display. The core only depends on the Sink interface; this package's
// Console implementation is a reference adapter, not part of the core.
package sink

import (
	"fmt"
	"sync"

	"github.com/lokutor-ai/turnscribe/pkg/model"
)

// Sink receives source-turn updates (as observed by the ASR event
// consumer) and the current visible translated-turn sequence (as produced
// by the Incremental Translator).
type Sink interface {
	SourceTurn(turn model.Turn)
	Translated(visible []model.TranslatedTurn)
}

// Console prints both streams to stdout. It is safe for concurrent use
// since the ASR consumer and the translator driver call it from separate
// goroutines.
type Console struct {
	mu sync.Mutex
}

func NewConsole() *Console { return &Console{} }

func (c *Console) SourceTurn(turn model.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	marker := " "
	if turn.Final {
		marker = "*"
	}
	fmt.Printf("\r\033[K[%s%d] %s\n", marker, turn.Id, turn.Text)
}

func (c *Console) Translated(visible []model.TranslatedTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Print("\r\033[K")
	for _, tt := range visible {
		fmt.Printf("  (%d <- %d) %s: %s\n", tt.Id, tt.OriginalId, tt.Speaker, tt.Text)
	}
}
