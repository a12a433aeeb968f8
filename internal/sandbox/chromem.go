package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chromemTracer = otel.Tracer("indexmanager.sandbox.chromem")

// pendingQueryToken is the placeholder "text" handed to chromem's Query:
// the real query vector travels through pendingQuery instead, since the
// manager always resolves embeddings itself (§4.3, §9) and chromem's
// Query API takes text. All sandbox calls are serialized by s.mu for the
// whole call (§4.1), so a single pending slot is race-free.
const pendingQueryToken = "__precomputed_query__"

// ChromemSandbox is a Sandbox backed by an in-memory chromem-go
// collection for the ANN index, plus its own documents side table
// (§2: "Owns a live in-memory vector store and the documents' text/
// metadata side table"). One ChromemSandbox owns exactly one chromem.DB
// and one collection, matching "one sandbox per index".
//
// Unlike the teacher's ChromemStore, this sandbox does not use chromem's
// own persistence: the cold form is produced by internal/codec, so the
// DB here is purely in-memory (chromem.NewDB, not NewPersistentDB).
type ChromemSandbox struct {
	mu           sync.Mutex
	db           *chromem.DB
	collection   *chromem.Collection
	opts         Options
	destroyed    bool
	pendingQuery []float32

	// sideTable mirrors the spec's "documents' text/metadata side table":
	// the authoritative store of each document's vector, text and
	// metadata, independent of whatever chromem itself retains.
	sideTable map[string]Document
	order     []string // insertion order, for stable GetDocuments output
}

// NewChromemSandbox returns an uninitialized chromem-backed sandbox.
func NewChromemSandbox() Sandbox {
	return &ChromemSandbox{}
}

func (s *ChromemSandbox) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if text == pendingQueryToken && s.pendingQuery != nil {
			return s.pendingQuery, nil
		}
		return nil, fmt.Errorf("sandbox: unexpected embedding call for %q; vectors must be precomputed by the manager", text)
	}
}

func (s *ChromemSandbox) Initialize(ctx context.Context, opts Options) error {
	_, span := chromemTracer.Start(ctx, "ChromemSandbox.Initialize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts = opts
	s.db = chromem.NewDB()
	s.sideTable = make(map[string]Document)

	col, err := s.db.CreateCollection(opts.ID, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating chromem collection: %w", err)
	}
	s.collection = col

	span.SetStatus(codes.Ok, "initialized")
	return nil
}

func (s *ChromemSandbox) AddDocuments(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemSandbox.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if seen[d.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = true
		if _, exists := s.sideTable[d.ID]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		cdocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Text,
			Metadata:  stringMetadata(d.Metadata),
			Embedding: d.Vector,
		}
	}

	if err := s.collection.AddDocuments(ctx, cdocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	for _, d := range docs {
		s.sideTable[d.ID] = d
		s.order = append(s.order, d.ID)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemSandbox) QueryIndex(ctx context.Context, queryVector []float32, opts QueryOptions) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemSandbox.QueryIndex")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return []Result{}, nil
	}

	k := opts.K
	if k <= 0 || k > count {
		k = count
	}

	s.pendingQuery = queryVector
	results, err := s.collection.Query(ctx, pendingQueryToken, k, nil, nil)
	s.pendingQuery = nil
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		if opts.Threshold != nil && r.Similarity < *opts.Threshold {
			continue
		}
		res := Result{ID: r.ID, Score: r.Similarity}
		if opts.IncludeMetadata {
			if doc, ok := s.sideTable[r.ID]; ok {
				res.Text = doc.Text
				res.Metadata = doc.Metadata
			}
		}
		out = append(out, res)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	span.SetAttributes(attribute.Int("results", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

func (s *ChromemSandbox) RemoveDocuments(ctx context.Context, ids []string) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemSandbox.RemoveDocuments")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if _, exists := s.sideTable[id]; !exists {
			continue // unknown ids are silently ignored, idempotent
		}
		if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("removing document %q: %w", id, err)
		}
		delete(s.sideTable, id)
		removed++
	}
	if removed > 0 {
		s.order = filterOrder(s.order, s.sideTable)
	}

	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

func (s *ChromemSandbox) GetDocuments(ctx context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		if d, ok := s.sideTable[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *ChromemSandbox) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrAlreadyDestroyed
	}
	s.destroyed = true
	s.collection = nil
	s.db = nil
	s.sideTable = nil
	s.order = nil
	return nil
}

func (s *ChromemSandbox) requireInitializedLocked() error {
	if s.destroyed {
		return ErrAlreadyDestroyed
	}
	if s.collection == nil {
		return ErrNotInitialized
	}
	return nil
}

func filterOrder(order []string, live map[string]Document) []string {
	out := order[:0:0]
	for _, id := range order {
		if _, ok := live[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func stringMetadata(m map[string]interface{}) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// Ensure ChromemSandbox implements Sandbox.
var _ Sandbox = (*ChromemSandbox)(nil)
