package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/mirvand/strata"
)

const contextualEnrichmentPrompt = `<document>
%s
</document>

Here is the chunk we want to situate within the whole document:
<chunk>
%s
</chunk>

Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.`

// maxContextualDocBytes caps how much of the document is sent with each
// enrichment call so prompts stay within model context limits.
const maxContextualDocBytes = 96 * 1024

// WithContextualEnrichment prepends an LLM-written situating sentence to
// every chunk before it is embedded and stored, improving retrieval of
// chunks that only make sense in their document's context. workers bounds
// the number of concurrent LLM calls per document.
//
// Enrichment is best-effort: a failed call leaves that chunk's content
// unchanged.
func WithContextualEnrichment(llm strata.LLM, workers int) Option {
	return func(ing *Ingestor) {
		ing.enrichLLM = llm
		ing.enrichWorkers = workers
	}
}

// enrichChunks rewrites chunk contents in place, prefixing each with a
// situating context generated against the whole document. Chunks are
// processed by a bounded worker pool; individual failures are logged and
// skipped.
func enrichChunks(ctx context.Context, llm strata.LLM, chunks []strata.Chunk, docText string, workers int, logger *slog.Logger) {
	if len(chunks) == 0 || llm == nil {
		return
	}
	if workers <= 0 {
		workers = 1
	}
	docText = truncateDocText(docText, maxContextualDocBytes)

	numWorkers := min(workers, len(chunks))
	work := make(chan int, len(chunks))
	done := make(chan struct{})

	var enriched, failed atomic.Int32

	for w := 0; w < numWorkers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := range work {
				if ctx.Err() != nil {
					continue
				}

				prompt := fmt.Sprintf(contextualEnrichmentPrompt, docText, chunks[i].Content)
				resp, err := llm.Invoke(ctx, []strata.ChatMessage{strata.UserMessage(prompt)})
				if err != nil {
					failed.Add(1)
					logger.Warn("contextual enrichment failed", "chunk", chunks[i].ID, "error", err)
					continue
				}

				prefix := strings.TrimSpace(resp.Content)
				if prefix == "" {
					failed.Add(1)
					continue
				}
				chunks[i].Content = prefix + "\n\n" + chunks[i].Content
				enriched.Add(1)
			}
		}()
	}

	for i := range chunks {
		work <- i
	}
	close(work)
	for w := 0; w < numWorkers; w++ {
		<-done
	}

	logger.Debug("contextual enrichment done",
		"enriched", enriched.Load(), "failed", failed.Load(), "total", len(chunks))
}

// truncateDocText cuts text to maxBytes at the nearest preceding word
// boundary.
func truncateDocText(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	if text[maxBytes] == ' ' || text[maxBytes] == '\n' {
		return text[:maxBytes]
	}
	cut := maxBytes
	for cut > 0 && text[cut-1] != ' ' && text[cut-1] != '\n' {
		cut--
	}
	if cut == 0 {
		return text[:maxBytes]
	}
	return strings.TrimSpace(text[:cut])
}
