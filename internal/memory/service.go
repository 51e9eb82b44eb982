package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/breaker"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/embeddings"
	"github.com/fyrsmithlabs/remedyd/internal/event"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/memory"
	collectionName      = "incidents"

	// addConcurrency is the chromem AddDocuments worker count. Inserts are
	// single-document, so one worker is enough.
	addConcurrency = 1
)

var tracer = otel.Tracer(instrumentationName)

var (
	// ErrUnavailable is returned while the memory breaker is open or the
	// underlying index fails. Callers must treat it as "no historical
	// context", not as a pipeline failure.
	ErrUnavailable = errors.New("incident memory unavailable")

	// ErrIncidentNotFound is returned when an outcome references an
	// incident that does not exist or was evicted.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidInput is returned for structurally invalid arguments.
	ErrInvalidInput = errors.New("invalid memory input")
)

// Service is the incident-outcome memory: a graph of past incidents linked
// to recorded remediation outcomes, recalled by embedding similarity.
type Service interface {
	// StoreIncident inserts the event as an incident node, deduplicated by
	// fingerprint. The returned node is a snapshot.
	StoreIncident(ctx context.Context, ev *event.Event) (*IncidentNode, error)

	// Recall returns up to k incidents most similar to the event, ordered
	// by ascending embedding distance, ties broken by most recent creation.
	Recall(ctx context.Context, ev *event.Event, k int) ([]RecallResult, error)

	// StoreOutcome attaches an outcome to a live incident. Identical
	// reports within one time bucket are idempotent and return the
	// existing outcome node.
	StoreOutcome(ctx context.Context, incID string, actions []string, success bool, durationMinutes float64, lessons string) (*OutcomeNode, error)

	// MostEffectiveActions ranks actions by historical success rate for
	// the component.
	MostEffectiveActions(ctx context.Context, component string, k int) ([]ActionStats, error)

	// Size reports the current incident node count.
	Size() int

	Close() error
}

// graphMemory is the in-process implementation over a chromem vector index
// and an LRU node cache. All mutating operations run under a single coarse
// lock, released on every exit path.
type graphMemory struct {
	cfg      config.MemoryConfig
	logger   *zap.Logger
	embedder embeddings.Provider
	brk      *breaker.Breaker

	mu        sync.Mutex
	incidents *lru.Cache[string, *IncidentNode]
	coll      *chromem.Collection

	now func() time.Time
}

// New creates an incident-outcome memory backed by an in-process vector
// index. The embedding provider's dimension must match cfg.VectorSize.
func New(cfg config.MemoryConfig, embedder embeddings.Provider, logger *zap.Logger) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidInput)
	}
	if dim := embedder.Dimension(); dim != cfg.VectorSize {
		return nil, fmt.Errorf("%w: embedding dimension %d does not match configured vector size %d",
			ErrInvalidInput, dim, cfg.VectorSize)
	}

	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(collectionName, nil, rejectServerSideEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating incident collection: %w", err)
	}

	m := &graphMemory{
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		brk:      breaker.New("memory", cfg.Breaker, logger),
		coll:     coll,
		now:      time.Now,
	}

	// The eviction callback runs synchronously under m.mu (evictions only
	// happen inside locked Add calls), so it must not re-acquire the lock.
	m.incidents, err = lru.NewWithEvict(cfg.MaxIncidents, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating incident cache: %w", err)
	}

	return m, nil
}

// rejectServerSideEmbedding guards against chromem computing embeddings
// itself; all vectors are produced by the injected provider.
func rejectServerSideEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("embeddings are computed by the configured provider")
}

func (m *graphMemory) onEvict(id string, node *IncidentNode) {
	if err := m.coll.Delete(context.Background(), nil, nil, id); err != nil {
		m.logger.Warn("failed to delete evicted incident vector",
			zap.String("incident_id", id),
			zap.Error(err),
		)
	}
	metricEvictions.Inc()
	metricIncidentCount.Set(float64(m.incidents.Len()))
	m.logger.Debug("evicted incident node",
		zap.String("incident_id", id),
		zap.String("component", node.Event.Component),
		zap.Int("outcomes", len(node.Outcomes)),
	)
}

func (m *graphMemory) StoreIncident(ctx context.Context, ev *event.Event) (*IncidentNode, error) {
	ctx, span := tracer.Start(ctx, "memory.StoreIncident")
	defer span.End()

	if ev == nil || ev.Fingerprint == "" {
		return nil, fmt.Errorf("%w: event with fingerprint is required", ErrInvalidInput)
	}
	span.SetAttributes(
		attribute.String("component", ev.Component),
		attribute.String("fingerprint", ev.Fingerprint),
	)

	var node *IncidentNode
	err := m.call(ctx, func(ctx context.Context) error {
		vec, err := m.embedder.Embed(ctx, ev)
		if err != nil {
			return fmt.Errorf("embedding event: %w", err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		id := incidentID(ev.Fingerprint)
		if existing, ok := m.incidents.Get(id); ok {
			node = existing.clone()
			return nil
		}

		created := &IncidentNode{
			ID:          id,
			Fingerprint: ev.Fingerprint,
			Event:       ev,
			Embedding:   vec,
			CreatedAt:   m.now().UTC(),
		}

		// Index first so a failed insert leaves no partial state behind.
		doc := chromem.Document{
			ID:        id,
			Content:   ev.EmbeddingText(),
			Embedding: vec,
			Metadata:  map[string]string{"component": ev.Component},
		}
		if err := m.coll.AddDocuments(ctx, []chromem.Document{doc}, addConcurrency); err != nil {
			return fmt.Errorf("indexing incident %s: %w", id, err)
		}
		m.incidents.Add(id, created)
		metricIncidents.Inc()
		metricIncidentCount.Set(float64(m.incidents.Len()))

		node = created.clone()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("incident_id", node.ID))
	span.SetStatus(codes.Ok, "")
	return node, nil
}

func (m *graphMemory) Recall(ctx context.Context, ev *event.Event, k int) ([]RecallResult, error) {
	ctx, span := tracer.Start(ctx, "memory.Recall")
	defer span.End()

	if ev == nil {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidInput, k)
	}
	span.SetAttributes(
		attribute.String("component", ev.Component),
		attribute.Int("k", k),
	)

	var results []RecallResult
	err := m.call(ctx, func(ctx context.Context) error {
		vec, err := m.embedder.Embed(ctx, ev)
		if err != nil {
			return fmt.Errorf("embedding event: %w", err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		count := m.coll.Count()
		if count == 0 {
			results = []RecallResult{}
			return nil
		}
		n := k
		if n > count {
			n = count
		}

		matches, err := m.coll.QueryEmbedding(ctx, vec, n, nil, nil)
		if err != nil {
			return fmt.Errorf("querying incident index: %w", err)
		}

		results = make([]RecallResult, 0, len(matches))
		for _, match := range matches {
			// Get marks the node recently used; recall hits count as
			// access for eviction purposes.
			node, ok := m.incidents.Get(match.ID)
			if !ok {
				continue
			}
			results = append(results, RecallResult{
				Incident: node.clone(),
				Distance: 1 - match.Similarity,
			})
		}
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Distance != results[j].Distance {
				return results[i].Distance < results[j].Distance
			}
			return results[i].Incident.CreatedAt.After(results[j].Incident.CreatedAt)
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metricRecalls.Inc()
	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

func (m *graphMemory) StoreOutcome(ctx context.Context, incID string, actions []string, success bool, durationMinutes float64, lessons string) (*OutcomeNode, error) {
	ctx, span := tracer.Start(ctx, "memory.StoreOutcome")
	defer span.End()

	if incID == "" {
		return nil, fmt.Errorf("%w: incident id is required", ErrInvalidInput)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: at least one action is required", ErrInvalidInput)
	}
	if durationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration must be non-negative", ErrInvalidInput)
	}
	span.SetAttributes(
		attribute.String("incident_id", incID),
		attribute.Bool("success", success),
	)

	var outcome *OutcomeNode
	// A missing incident is a caller error, not a store fault; it must not
	// count against the breaker.
	var notFound error
	err := m.call(ctx, func(_ context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		node, ok := m.incidents.Get(incID)
		if !ok {
			notFound = fmt.Errorf("%w: %s", ErrIncidentNotFound, incID)
			return nil
		}

		now := m.now().UTC()
		id := outcomeID(incID, actions, now)
		for _, existing := range node.Outcomes {
			if existing.ID == id {
				oc := *existing
				outcome = &oc
				return nil
			}
		}

		created := &OutcomeNode{
			ID:              id,
			IncidentID:      incID,
			Actions:         append([]string(nil), actions...),
			Success:         success,
			DurationMinutes: durationMinutes,
			Lessons:         lessons,
			RecordedAt:      now,
		}
		node.Outcomes = append(node.Outcomes, created)
		metricOutcomes.Inc()

		oc := *created
		outcome = &oc
		return nil
	})
	if err == nil {
		err = notFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome_id", outcome.ID))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

func (m *graphMemory) MostEffectiveActions(ctx context.Context, component string, k int) ([]ActionStats, error) {
	_, span := tracer.Start(ctx, "memory.MostEffectiveActions")
	defer span.End()

	if component == "" {
		return nil, fmt.Errorf("%w: component is required", ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidInput, k)
	}

	var stats []ActionStats
	err := m.call(ctx, func(_ context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		byAction := make(map[string]*ActionStats)
		// Values does not refresh recency; an aggregation scan is not an
		// access in the eviction sense.
		for _, node := range m.incidents.Values() {
			if node.Event.Component != component {
				continue
			}
			for _, outcome := range node.Outcomes {
				for _, action := range outcome.Actions {
					s, ok := byAction[action]
					if !ok {
						s = &ActionStats{Action: action}
						byAction[action] = s
					}
					s.Attempts++
					if outcome.Success {
						s.Successes++
					}
				}
			}
		}

		stats = make([]ActionStats, 0, len(byAction))
		for _, s := range byAction {
			s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
			stats = append(stats, *s)
		}
		sort.Slice(stats, func(i, j int) bool {
			if stats[i].SuccessRate != stats[j].SuccessRate {
				return stats[i].SuccessRate > stats[j].SuccessRate
			}
			if stats[i].Attempts != stats[j].Attempts {
				return stats[i].Attempts > stats[j].Attempts
			}
			return stats[i].Action < stats[j].Action
		})
		if len(stats) > k {
			stats = stats[:k]
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return stats, nil
}

func (m *graphMemory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incidents.Len()
}

func (m *graphMemory) Close() error {
	return m.embedder.Close()
}

// call wraps an operation with the memory breaker, translating an open
// breaker into ErrUnavailable.
func (m *graphMemory) call(ctx context.Context, fn func(context.Context) error) error {
	err := m.brk.Call(ctx, fn)
	if errors.Is(err, breaker.ErrOpen) {
		metricUnavailable.Inc()
		return fmt.Errorf("%w: %s", ErrUnavailable, "circuit breaker open")
	}
	return err
}
