package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// Config configures the ingest boundary.
type Config struct {
	EvidenceRetention time.Duration // purge evidence older than this (default 30 days)
	DedupeWindowSize  int           // bounded idempotence window (default 10_000)
}

// DefaultConfig returns production ingest defaults.
func DefaultConfig() Config {
	return Config{
		EvidenceRetention: 30 * 24 * time.Hour,
		DedupeWindowSize:  10_000,
	}
}

// Ingestor turns raw behavior evidence into anonymized storage rows and
// published intent signals.
type Ingestor struct {
	cfg       Config
	store     domain.Store
	publisher domain.EventPublisher

	mu      sync.Mutex
	seen    map[string]struct{}
	seenFIFO []string
}

// New creates an Ingestor.
func New(cfg Config, store domain.Store, publisher domain.EventPublisher) *Ingestor {
	return &Ingestor{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		seen:      make(map[string]struct{}),
	}
}

// Ingest anonymizes raw evidence, persists it idempotently, extracts its
// intent signal (if any), and publishes a behavior_ingested event for the
// PIG to consume.
func (ig *Ingestor) Ingest(ctx context.Context, evidenceType domain.EvidenceType, source string, features map[string]any, now time.Time) error {
	anonymized := anonymizeFeatures(features)

	ev := domain.BehaviorEvidence{
		Timestamp:      now,
		EvidenceType:    evidenceType,
		Features:       features,
		AnonymizedHash: anonymizeToken(fmt.Sprintf("%d:%s:%v", now.Unix(), evidenceType, anonymized)),
		Source:         source,
	}

	dedupeKey := fmt.Sprintf("%d:%s", now.Unix(), ev.AnonymizedHash)
	if ig.alreadySeen(dedupeKey) {
		return nil
	}

	if err := ig.store.AppendEvidence(ev); err != nil {
		return domain.NewCoreError(domain.KindPersistenceWrite, "append evidence", err)
	}
	metrics.PIGEvidenceProcessed.WithLabelValues(string(evidenceType)).Inc()

	signal := ExtractSignal(ev)
	if signal == nil {
		return nil
	}

	payload := map[string]any{
		"intent_type":       signal.IntentType,
		"description":       signal.Description,
		"evidence_strength": signal.EvidenceStrength,
		"initial_prior":     signal.InitialPrior,
		"timestamp":         now,
	}
	pubErr := ig.publisher.Publish(ctx, domain.Event{
		Type:      domain.EventBehaviorIngested,
		Timestamp: now,
		Source:    "ingest",
		Payload:   payload,
		Priority:  4,
	})
	if pubErr != nil {
		log.Printf("ingest: publish behavior_ingested failed: %v", pubErr)
	}
	return nil
}

// alreadySeen reports whether key was ingested within the bounded dedupe
// window, recording it if not.
func (ig *Ingestor) alreadySeen(key string) bool {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	if _, ok := ig.seen[key]; ok {
		return true
	}
	ig.seen[key] = struct{}{}
	ig.seenFIFO = append(ig.seenFIFO, key)
	if len(ig.seenFIFO) > ig.cfg.DedupeWindowSize {
		oldest := ig.seenFIFO[0]
		ig.seenFIFO = ig.seenFIFO[1:]
		delete(ig.seen, oldest)
	}
	return false
}

// PurgeExpired deletes evidence rows older than the configured retention,
// intended to run on a periodic ticker from the daemon.
func (ig *Ingestor) PurgeExpired(now time.Time) (int, error) {
	cutoff := now.Add(-ig.cfg.EvidenceRetention).Unix()
	return ig.store.PurgeEvidenceOlderThan(cutoff)
}

// anonymizeFeatures anonymizes string feature values; path-shaped values
// anonymize per path segment, everything else anonymizes as a whole token.
func anonymizeFeatures(features map[string]any) map[string]string {
	out := make(map[string]string, len(features))
	for k, v := range features {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == "path" || k == "file_path" {
			out[k] = anonymizePath(s)
		} else {
			out[k] = anonymizeToken(s)
		}
	}
	return out
}
