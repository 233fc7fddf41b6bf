package ingest

import "log/slog"

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithStrategy sets the chunking strategy.
func WithStrategy(s Strategy) Option {
	return func(ing *Ingestor) { ing.strategy = s }
}

// WithChunkerOptions forwards options to the chunkers built for each ingest.
func WithChunkerOptions(opts ...ChunkerOption) Option {
	return func(ing *Ingestor) { ing.chunkOpts = append(ing.chunkOpts, opts...) }
}

// WithExtractor registers an Extractor for a content type, replacing the
// default.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithTag sets the source classification tag stamped on chunk metadata
// (default strata.TagMaterial).
func WithTag(tag string) Option {
	return func(ing *Ingestor) { ing.tag = tag }
}

// WithLogger sets the logger. By default the Ingestor is silent.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) {
		if l != nil {
			ing.logger = l
		}
	}
}
