package fetcher

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/queue"
	"github.com/Sternrassler/roster-client/pkg/record"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var enrichLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "roster_enrichment_lookups_total",
	Help: "Total logo lookups by outcome",
}, []string{"outcome"})

func logoKey(affiliation string) string {
	return cache.Key{Namespace: "logo", ID: affiliation}.String()
}

// cachedLogo returns the cached logo for affiliation; ok is false on a miss.
func (f *Fetcher) cachedLogo(ctx context.Context, affiliation string) (string, bool) {
	var ref string
	if err := f.cache.Get(ctx, logoKey(affiliation), &ref); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			f.logger.Debug().Err(err).Str("affiliation", affiliation).Msg("Logo cache read failed")
		}
		return "", false
	}
	return ref, true
}

// attachLogos fills in AffiliationLogoRef from cached lookups.
func (f *Fetcher) attachLogos(ctx context.Context, records []record.Record) {
	logos := make(map[string]string)
	for _, key := range record.AffiliationKeys(records) {
		if ref, ok := f.cachedLogo(ctx, key); ok && ref != "" {
			logos[key] = ref
		}
	}
	if len(logos) == 0 {
		return
	}
	for i := range records {
		if records[i].AffiliationLogoRef != "" {
			continue
		}
		if ref, ok := logos[records[i].AffiliationKey]; ok {
			records[i].AffiliationLogoRef = ref
		}
	}
}

// startEnrichment launches a background logo lookup run unless one is
// already in progress.
func (f *Fetcher) startEnrichment(records []record.Record) {
	keys := record.AffiliationKeys(records)
	if len(keys) == 0 {
		return
	}

	f.enrichMu.Lock()
	if f.enrichDone != nil {
		select {
		case <-f.enrichDone:
		default:
			f.enrichMu.Unlock()
			f.logger.Debug().Msg("Enrichment already running, skipping")
			return
		}
	}
	done := make(chan struct{})
	f.enrichDone = done
	f.wg.Add(1)
	f.enrichMu.Unlock()

	go func() {
		defer f.wg.Done()
		defer close(done)
		f.enrich(f.bg, keys)
	}()
}

// WaitEnrichment blocks until the current enrichment run (if any) finishes.
func (f *Fetcher) WaitEnrichment(ctx context.Context) error {
	f.enrichMu.Lock()
	done := f.enrichDone
	f.enrichMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enrich fetches logos for keys that are not cached yet, in batches of
// concurrent lookups. Failures are logged and never escalate.
func (f *Fetcher) enrich(ctx context.Context, keys []string) {
	missing := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := f.cachedLogo(ctx, key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return
	}

	start := time.Now()
	f.logger.Info().Int("affiliations", len(missing)).Msg("Starting logo enrichment")

	resolved := 0
	for i := 0; i < len(missing); i += f.cfg.EnrichBatchSize {
		if i > 0 {
			if err := sleep(ctx, f.enrichDelay()); err != nil {
				return
			}
		}
		end := min(i+f.cfg.EnrichBatchSize, len(missing))
		batch := missing[i:end]

		results := make([]bool, len(batch))
		var g errgroup.Group
		g.SetLimit(f.cfg.EnrichBatchSize)
		for j, key := range batch {
			g.Go(func() error {
				if err := f.fetchLogo(ctx, key); err != nil {
					enrichLookupsTotal.WithLabelValues("failed").Inc()
					f.logger.Warn().Err(err).Str("affiliation", key).Msg("Logo lookup failed")
					return nil
				}
				enrichLookupsTotal.WithLabelValues("success").Inc()
				results[j] = true
				return nil
			})
		}
		_ = g.Wait()

		for _, ok := range results {
			if ok {
				resolved++
			}
		}
		if ctx.Err() != nil {
			return
		}
	}

	f.logger.Info().
		Int("resolved", resolved).
		Int("requested", len(missing)).
		Dur("duration", time.Since(start)).
		Msg("Logo enrichment complete")
}

func (f *Fetcher) fetchLogo(ctx context.Context, affiliation string) error {
	req := transport.Request{
		Kind: transport.KindLogo,
		Path: strings.ReplaceAll(f.cfg.LogoPath, "{key}", url.PathEscape(affiliation)),
	}
	resp, err := f.queue.Enqueue(req, queue.Options{
		Priority: f.cfg.LogoPriority,
		Headers:  f.cfg.Headers,
	}).Wait(ctx)
	if err != nil {
		return err
	}

	ref, err := record.ParseLogo(resp.Body)
	if err != nil {
		f.classifier.FromError(ctx, err, map[string]any{"affiliation": affiliation})
		return err
	}
	if err := f.cache.Set(ctx, logoKey(affiliation), ref, f.cfg.LogoTTL); err != nil {
		f.logger.Warn().Err(err).Str("affiliation", affiliation).Msg("Failed to cache logo")
	}
	return nil
}

func (f *Fetcher) enrichDelay() time.Duration {
	spread := f.cfg.EnrichDelayMax - f.cfg.EnrichDelayMin
	if spread <= 0 {
		return f.cfg.EnrichDelayMin
	}
	return f.cfg.EnrichDelayMin + time.Duration(rand.Int63n(int64(spread)+1))
}
