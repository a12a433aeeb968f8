package sandbox

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("indexmanager.sandbox.qdrant")

// collectionNamePattern mirrors Qdrant's own naming constraints; an
// index's Options.ID is turned into a collection name through this.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig configures the shared gRPC connection a QdrantFactory
// hands to every QdrantSandbox it produces. Unlike the per-sandbox
// Options, this is process-wide: one Qdrant server backs every index
// that picks this backend (§2: a sandbox is "an isolated compute unit",
// not necessarily an isolated process).
type QdrantConfig struct {
	Host                    string
	Port                    int
	UseTLS                  bool
	APIKey                  string
	MaxRetries              int
	RetryBackoff            time.Duration
	MaxMessageSize          int
	CircuitBreakerThreshold int
	Distance                qdrant.Distance
}

// ApplyDefaults fills unset fields, mirroring the teacher's QdrantConfig.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}

func (c QdrantConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("qdrant: host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("qdrant: invalid port %d", c.Port)
	}
	return nil
}

// collectionName derives a Qdrant-legal collection name from an index
// id, since ids may contain characters (":", etc., §6/§9) that Qdrant's
// naming rules reject.
func collectionName(indexID string) string {
	name := qdrantSafeChars.ReplaceAllString(toLowerASCII(indexID), "_")
	if len(name) > 64 {
		name = name[:64]
	}
	if collectionNamePattern.MatchString(name) {
		return name
	}
	return "idx_" + uuidFromString(indexID)
}

var qdrantSafeChars = regexp.MustCompile(`[^a-z0-9_]`)

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// uuidFromString derives a deterministic UUIDv5 from an arbitrary
// string, used both for Qdrant point ids (which must be UUIDs or
// integers) and as a collection-name fallback.
func uuidFromString(s string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(s)).String()
}

// IsTransientError reports whether err is worth retrying: network
// unavailability, deadlines, aborts, or resource exhaustion. Invalid
// arguments, not-found and permission errors are permanent.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantFactory constructs QdrantSandbox instances sharing one gRPC
// connection. Use Factory (NewFactory's returned closure) to plug it
// into the manager.
type QdrantFactory struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantFactory dials Qdrant once and returns a Factory usable for
// every index that selects the qdrant backend.
func NewQdrantFactory(ctx context.Context, config QdrantConfig) (*QdrantFactory, error) {
	config.ApplyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	if !config.UseTLS {
		fmt.Fprintf(os.Stderr, "WARNING: qdrant gRPC using plaintext (TLS disabled); insecure for production\n")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	return &QdrantFactory{client: client, config: config}, nil
}

// Factory adapts f into a sandbox.Factory for the manager.
func (f *QdrantFactory) Factory() Factory {
	return func() Sandbox {
		return &QdrantSandbox{client: f.client, config: f.config}
	}
}

// Close releases the shared gRPC connection.
func (f *QdrantFactory) Close() error {
	return f.client.Close()
}

// QdrantSandbox is a Sandbox whose ANN index and documents both live in
// a Qdrant collection, rather than in-process. It gives the manager a
// second backend behind the same Sandbox contract, for deployments that
// need a vector index surviving process restarts without going through
// codec offload/resume.
type QdrantSandbox struct {
	mu         sync.Mutex
	client     *qdrant.Client
	config     QdrantConfig
	collection string
	destroyed  bool
	initd      bool

	circuit struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

func (s *QdrantSandbox) Initialize(ctx context.Context, opts Options) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSandbox.Initialize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collection = collectionName(opts.ID)

	err := s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(opts.Dimension),
				Distance: s.config.Distance,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating qdrant collection %q: %w", s.collection, err)
	}

	s.initd = true
	span.SetStatus(codes.Ok, "initialized")
	return nil
}

func (s *QdrantSandbox) AddDocuments(ctx context.Context, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSandbox.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(docs))
	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		if seen[d.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = true

		payload := map[string]*qdrant.Value{
			"content": {Kind: &qdrant.Value_StringValue{StringValue: d.Text}},
			"doc_id":  {Kind: &qdrant.Value_StringValue{StringValue: d.ID}},
		}
		for k, v := range d.Metadata {
			payload[k] = toQdrantValue(v)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(qdrantPointID(d.ID)),
			Vectors: qdrant.NewVectors(d.Vector...),
			Payload: payload,
		}
	}

	exists, err := s.hasAny(ctx, seenIDs(docs))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: one or more ids already present", ErrDuplicateID)
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *QdrantSandbox) QueryIndex(ctx context.Context, queryVector []float32, opts QueryOptions) ([]Result, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSandbox.QueryIndex")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return nil, err
	}

	limit := uint64(opts.K)
	if opts.K <= 0 {
		limit = 10000
	}

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %q: %w", s.collection, err)
	}

	out := make([]Result, 0, len(points))
	for _, p := range points {
		if opts.Threshold != nil && p.Score < *opts.Threshold {
			continue
		}
		res := Result{ID: docIDFromPayload(p.Payload), Score: p.Score}
		if opts.IncludeMetadata {
			res.Text, res.Metadata = fromQdrantPayload(p.Payload)
		}
		out = append(out, res)
	}

	span.SetAttributes(attribute.Int("results", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

func (s *QdrantSandbox) RemoveDocuments(ctx context.Context, ids []string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSandbox.RemoveDocuments")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	before, err := s.count(ctx)
	if err != nil {
		return 0, err
	}

	err = s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: "doc_id",
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keywords{
											Keywords: &qdrant.RepeatedStrings{Strings: ids},
										},
									},
								},
							},
						}},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting points: %w", err)
	}

	after, err := s.count(ctx)
	if err != nil {
		return 0, err
	}
	removed := before - after
	if removed < 0 {
		removed = 0
	}

	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

func (s *QdrantSandbox) GetDocuments(ctx context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitializedLocked(); err != nil {
		return nil, err
	}
	return s.getDocumentsLocked(ctx)
}

// getDocumentsLocked scrolls the whole collection; the caller holds s.mu.
func (s *QdrantSandbox) getDocumentsLocked(ctx context.Context) ([]Document, error) {
	var out []Document
	var offset *qdrant.PointId
	const batchSize = 256
	for {
		resp, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(batchSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling collection %q: %w", s.collection, err)
		}
		if len(resp) == 0 {
			break
		}
		for _, p := range resp {
			text, meta := fromQdrantPayload(p.Payload)
			out = append(out, Document{
				ID:       docIDFromPayload(p.Payload),
				Vector:   extractVectorOutput(p.Vectors),
				Text:     text,
				Metadata: meta,
			})
		}
		if len(resp) < batchSize || next == nil {
			break
		}
		offset = next
	}
	return out, nil
}

func (s *QdrantSandbox) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrAlreadyDestroyed
	}
	s.destroyed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("deleting qdrant collection %q: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantSandbox) requireInitializedLocked() error {
	if s.destroyed {
		return ErrAlreadyDestroyed
	}
	if !s.initd {
		return ErrNotInitialized
	}
	return nil
}

func (s *QdrantSandbox) count(ctx context.Context) (int, error) {
	resp, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("counting collection %q: %w", s.collection, err)
	}
	return int(resp), nil
}

func (s *QdrantSandbox) hasAny(ctx context.Context, ids []string) (bool, error) {
	docs, err := s.getDocumentsLocked(ctx)
	if err != nil {
		return false, err
	}
	existing := make(map[string]bool, len(docs))
	for _, d := range docs {
		existing[d.ID] = true
	}
	for _, id := range ids {
		if existing[id] {
			return true, nil
		}
	}
	return false, nil
}

// retry mirrors the teacher's exponential-backoff-plus-circuit-breaker
// pattern: permanent errors fail fast, transient ones retry up to
// config.MaxRetries with doubling backoff, and a tripped circuit fails
// fast for 30s after config.CircuitBreakerThreshold consecutive failures.
func (s *QdrantSandbox) retry(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if s.circuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", op)
		}
		err := fn()
		if err == nil {
			s.resetCircuit()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", op, err)
		}
		s.recordFailure()
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantSandbox) recordFailure() {
	s.circuit.mu.Lock()
	defer s.circuit.mu.Unlock()
	s.circuit.failures++
	s.circuit.lastFail = time.Now()
}

func (s *QdrantSandbox) resetCircuit() {
	s.circuit.mu.Lock()
	defer s.circuit.mu.Unlock()
	s.circuit.failures = 0
}

func (s *QdrantSandbox) circuitOpen() bool {
	s.circuit.mu.Lock()
	defer s.circuit.mu.Unlock()
	if s.circuit.failures >= s.config.CircuitBreakerThreshold {
		if time.Since(s.circuit.lastFail) > 30*time.Second {
			s.circuit.failures = 0
			return false
		}
		return true
	}
	return false
}

func qdrantPointID(id string) string {
	// Qdrant point ids must be a UUID or unsigned integer; ours are
	// arbitrary strings, so every point uses a UUIDv5 derived from id,
	// and the original id is recovered from payload["doc_id"].
	return uuidFromString(id)
}

func toQdrantValue(v interface{}) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) (text string, meta map[string]interface{}) {
	if payload == nil {
		return "", nil
	}
	meta = make(map[string]interface{})
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			if k == "content" {
				text = val.StringValue
				continue
			}
			if k == "doc_id" {
				continue
			}
			meta[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			meta[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			meta[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			meta[k] = val.BoolValue
		}
	}
	return text, meta
}

func extractVectorOutput(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

func docIDFromPayload(payload map[string]*qdrant.Value) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload["doc_id"]; ok {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

func seenIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// Ensure QdrantSandbox implements Sandbox.
var _ Sandbox = (*QdrantSandbox)(nil)
