package sandbox

import (
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// These cover the pure, network-free parts of the qdrant backend: name
// derivation, config defaulting/validation, transient-error
// classification, and payload marshaling. QdrantSandbox's RPC methods
// need a live server and are not exercised here; the Sandbox contract
// tests run only against the chromem backend.

func TestQdrantConfigApplyDefaults(t *testing.T) {
	var c QdrantConfig
	c.ApplyDefaults()

	assert.Equal(t, 3, c.MaxRetries)
	assert.NotZero(t, c.RetryBackoff)
	assert.Equal(t, 50*1024*1024, c.MaxMessageSize)
	assert.Equal(t, 5, c.CircuitBreakerThreshold)
	assert.Equal(t, qdrant.Distance_Cosine, c.Distance)
}

func TestQdrantConfigValidateRequiresHostAndPort(t *testing.T) {
	assert.Error(t, (QdrantConfig{}).validate())
	assert.Error(t, (QdrantConfig{Host: "localhost"}).validate())
	assert.Error(t, (QdrantConfig{Host: "localhost", Port: 70000}).validate())
	assert.NoError(t, (QdrantConfig{Host: "localhost", Port: 6334}).validate())
}

func TestCollectionNameSanitizesDisallowedCharacters(t *testing.T) {
	name := collectionName("tenant-1:namespace-a:idx-1")
	assert.Regexp(t, `^[a-z0-9_]{1,64}$`, name)
}

func TestCollectionNameIsDeterministic(t *testing.T) {
	a := collectionName("tenant:ns:idx")
	b := collectionName("tenant:ns:idx")
	assert.Equal(t, a, b)
}

func TestCollectionNameTruncatesWhenTooLong(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	name := collectionName(long)
	assert.Regexp(t, `^[a-z0-9_]{1,64}$`, name)
}

func TestIsTransientErrorClassification(t *testing.T) {
	assert.False(t, IsTransientError(nil))
	assert.False(t, IsTransientError(errors.New("plain error")))

	assert.True(t, IsTransientError(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(codes.DeadlineExceeded, "timeout")))
	assert.True(t, IsTransientError(status.Error(codes.Aborted, "aborted")))
	assert.True(t, IsTransientError(status.Error(codes.ResourceExhausted, "exhausted")))

	assert.False(t, IsTransientError(status.Error(codes.NotFound, "missing")))
	assert.False(t, IsTransientError(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(status.Error(codes.PermissionDenied, "denied")))
}

func TestQdrantPointIDIsDeterministicUUID(t *testing.T) {
	a := qdrantPointID("doc-1")
	b := qdrantPointID("doc-1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, qdrantPointID("doc-2"))
}

func TestToAndFromQdrantPayloadRoundTrip(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"content": {Kind: &qdrant.Value_StringValue{StringValue: "hello"}},
		"doc_id":  {Kind: &qdrant.Value_StringValue{StringValue: "doc-1"}},
		"tag":     toQdrantValue("blue"),
		"count":   toQdrantValue(int64(3)),
		"score":   toQdrantValue(1.5),
		"active":  toQdrantValue(true),
	}

	text, meta := fromQdrantPayload(payload)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "blue", meta["tag"])
	assert.Equal(t, int64(3), meta["count"])
	assert.Equal(t, 1.5, meta["score"])
	assert.Equal(t, true, meta["active"])
	assert.Equal(t, "doc-1", docIDFromPayload(payload))
	_, hasDocID := meta["doc_id"]
	assert.False(t, hasDocID, "doc_id is bookkeeping, not user metadata")
}

func TestExtractVectorOutputHandlesNil(t *testing.T) {
	assert.Nil(t, extractVectorOutput(nil))
}
