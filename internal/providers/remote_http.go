package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type remoteEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type remoteEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// embedRemoteHTTP performs a single-text embedding call against a remote
// HTTP embedding service, following the request/response shape used by
// the teacher's TEI client (internal/embeddings/service.go) but reduced
// to a single-vector response since the Provider interface here embeds
// one text at a time.
func embedRemoteHTTP(ctx context.Context, client *http.Client, host, model, text string) ([]float32, error) {
	body, err := json.Marshal(remoteEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var out remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return out.Embedding, nil
}
