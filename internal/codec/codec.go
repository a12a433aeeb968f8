// Package codec implements the persistence codec (P) for a single index's
// cold, on-disk form: a binary vectors file, a JSON documents sidecar, and
// a JSON metadata descriptor (§4.2, §6).
package codec

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sentinel errors for codec operations.
var (
	ErrIOFailed      = errors.New("io-failed")
	ErrCorruptFile   = errors.New("corrupt offload file")
	ErrNotFound      = errors.New("offloaded descriptor not found")
)

// BinaryFormatV1 is the format tag written by this codec (I5).
const BinaryFormatV1 = "binary_v1"

// Document is one stored item, with or without a vector attached.
type Document struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Vector   []float32              `json:"-"`
}

// sidecarDocument is the on-disk shape of internal/codec's documents
// sidecar: no vectors, just a hasVector marker (§4.2).
type sidecarDocument struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	HasVector bool                  `json:"hasVector"`
}

// Metadata is the on-disk metadata descriptor (§3).
type Metadata struct {
	ID                 string    `json:"id"`
	Created            time.Time `json:"created"`
	OffloadedAt        time.Time `json:"offloadedAt"`
	Options            map[string]interface{} `json:"options,omitempty"`
	DocumentCount      int       `json:"documentCount"`
	EmbeddingDimension int       `json:"embeddingDimension"`
	DocumentsFile      string    `json:"documentsFile"`
	VectorsFile        string    `json:"vectorsFile,omitempty"`
	Format             string    `json:"format,omitempty"`
}

// EncodeFilename applies the deterministic, invertible filename encoding
// required by §6: a namespaced id's ':' is percent-encoded so the triple
// of files is safe on filesystems that reject colons, applied uniformly
// regardless of host OS. A literal '%' is encoded as "%25" first so the
// mapping stays invertible.
func EncodeFilename(id string) string {
	return strings.ReplaceAll(strings.ReplaceAll(id, "%", "%25"), ":", "%3A")
}

// DecodeFilename inverts EncodeFilename.
func DecodeFilename(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "%3A", ":"), "%25", "%")
}

// EnsureDir creates the offload directory if it doesn't already exist,
// with owner-only permissions matching the rest of the manager's
// on-disk footprint.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: creating offload directory %s: %v", ErrIOFailed, dir, err)
	}
	return nil
}

func metadataPath(dir, id string) string {
	return filepath.Join(dir, EncodeFilename(id)+".metadata.json")
}

func documentsPath(dir, id string) string {
	return filepath.Join(dir, EncodeFilename(id)+".documents.json")
}

func vectorsPath(dir, id string) string {
	return filepath.Join(dir, EncodeFilename(id)+".vectors.bin")
}

// WriteVectors encodes docs to the binary vectors file layout (§4.2):
//
//	u32  docCount
//	u32  dimension
//	repeat docCount times: u32 idLen, idBytes, f32[dimension] vector
//
// Any document whose vector is absent or whose length != dimension is
// skipped; docCount reflects only the documents actually written.
// Returns the number of documents written.
func WriteVectors(w io.Writer, docs []Document, dimension int) (int, error) {
	var toWrite []Document
	for _, d := range docs {
		if len(d.Vector) == dimension {
			toWrite = append(toWrite, d)
		}
	}

	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(toWrite))); err != nil {
		return 0, fmt.Errorf("%w: writing doc count: %v", ErrIOFailed, err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(dimension)); err != nil {
		return 0, fmt.Errorf("%w: writing dimension: %v", ErrIOFailed, err)
	}

	for _, d := range toWrite {
		idBytes := []byte(d.ID)
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return 0, fmt.Errorf("%w: writing id length: %v", ErrIOFailed, err)
		}
		if _, err := bw.Write(idBytes); err != nil {
			return 0, fmt.Errorf("%w: writing id bytes: %v", ErrIOFailed, err)
		}
		for _, f := range d.Vector {
			if err := binary.Write(bw, binary.LittleEndian, math.Float32bits(f)); err != nil {
				return 0, fmt.Errorf("%w: writing vector component: %v", ErrIOFailed, err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flushing: %v", ErrIOFailed, err)
	}

	return len(toWrite), nil
}

// ReadVectors decodes the binary vectors file layout, returning a mapping
// id -> vector and the dimension recorded in the header.
func ReadVectors(r io.Reader) (map[string][]float32, int, error) {
	br := bufio.NewReader(r)

	var docCount, dimension uint32
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return nil, 0, fmt.Errorf("%w: reading doc count: %v", ErrCorruptFile, err)
	}
	if err := binary.Read(br, binary.LittleEndian, &dimension); err != nil {
		return nil, 0, fmt.Errorf("%w: reading dimension: %v", ErrCorruptFile, err)
	}

	out := make(map[string][]float32, docCount)
	for i := uint32(0); i < docCount; i++ {
		var idLen uint32
		if err := binary.Read(br, binary.LittleEndian, &idLen); err != nil {
			return nil, 0, fmt.Errorf("%w: reading id length at record %d: %v", ErrCorruptFile, i, err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(br, idBytes); err != nil {
			return nil, 0, fmt.Errorf("%w: reading id bytes at record %d: %v", ErrCorruptFile, i, err)
		}

		vec := make([]float32, dimension)
		for j := uint32(0); j < dimension; j++ {
			var bits uint32
			if err := binary.Read(br, binary.LittleEndian, &bits); err != nil {
				return nil, 0, fmt.Errorf("%w: reading vector component at record %d: %v", ErrCorruptFile, i, err)
			}
			vec[j] = math.Float32frombits(bits)
		}

		out[string(idBytes)] = vec
	}

	return out, int(dimension), nil
}

// WriteDocumentsSidecar writes the documents sidecar: a JSON array of
// {id, text?, metadata?, hasVector} in the same order as docs, carrying
// no vectors (§4.2).
func WriteDocumentsSidecar(w io.Writer, docs []Document) error {
	sidecar := make([]sidecarDocument, len(docs))
	for i, d := range docs {
		sidecar[i] = sidecarDocument{
			ID:        d.ID,
			Text:      d.Text,
			Metadata:  d.Metadata,
			HasVector: len(d.Vector) > 0,
		}
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(sidecar); err != nil {
		return fmt.Errorf("%w: encoding documents sidecar: %v", ErrIOFailed, err)
	}
	return nil
}

// ReadDocumentsSidecar reads the documents sidecar back.
func ReadDocumentsSidecar(r io.Reader) ([]sidecarDocument, error) {
	var sidecar []sidecarDocument
	if err := json.NewDecoder(r).Decode(&sidecar); err != nil {
		return nil, fmt.Errorf("%w: decoding documents sidecar: %v", ErrCorruptFile, err)
	}
	return sidecar, nil
}

// Offload writes the {id}.documents.json, {id}.vectors.bin, and
// {id}.metadata.json triple (§4.4.3 step 3). The documents sidecar and
// the binary vectors file have no dependency on one another, so they
// are written concurrently via errgroup; the metadata descriptor is
// written last, once both succeed, since it is the file §5 requires
// to exist last before index_offloaded is emitted. On partial failure
// it deletes whatever it managed to write and returns the error,
// leaving the directory as if Offload had never been called.
func Offload(ctx context.Context, dir, id string, meta Metadata, docs []Document) error {
	meta.ID = id
	meta.Format = BinaryFormatV1
	meta.DocumentsFile = documentsPath(dir, id)
	meta.VectorsFile = vectorsPath(dir, id)
	meta.DocumentCount = len(docs)

	docsPath := documentsPath(dir, id)
	vecsPath := vectorsPath(dir, id)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeJSONFile(docsPath, func(w io.Writer) error {
			return WriteDocumentsSidecar(w, docs)
		})
	})
	g.Go(func() error {
		return writeJSONFile(vecsPath, func(w io.Writer) error {
			_, werr := WriteVectors(w, docs, meta.EmbeddingDimension)
			return werr
		})
	})

	if err := g.Wait(); err != nil {
		os.Remove(docsPath)
		os.Remove(vecsPath)
		return err
	}

	metaPath := metadataPath(dir, id)
	if err := writeJSONFile(metaPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		os.Remove(docsPath)
		os.Remove(vecsPath)
		return err
	}

	return nil
}

// writeJSONFile writes via a temp file + rename for crash-atomicity of
// each individual file, matching the teacher's registry.save() pattern.
func writeJSONFile(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrIOFailed, tmp, err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %v", ErrIOFailed, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming %s: %v", ErrIOFailed, tmp, err)
	}
	return nil
}

// Read loads the descriptor triple for id, combining the sidecar with the
// binary vectors file when metadata.format is "binary_v1" (§4.2 read
// path). Documents without a binary entry are kept text-only. When the
// metadata predates the binary format, documentsFile is treated as a
// legacy, self-contained JSON array of full documents (with vectors).
func Read(dir, id string) (Metadata, []Document, error) {
	meta, err := ReadMetadata(dir, id)
	if err != nil {
		return Metadata{}, nil, err
	}

	if meta.Format == BinaryFormatV1 && meta.VectorsFile != "" {
		sidecar, err := readSidecarFile(meta.DocumentsFile)
		if err != nil {
			return Metadata{}, nil, err
		}

		vf, err := os.Open(meta.VectorsFile)
		if err != nil {
			return Metadata{}, nil, fmt.Errorf("%w: opening vectors file: %v", ErrIOFailed, err)
		}
		defer vf.Close()

		vectors, _, err := ReadVectors(vf)
		if err != nil {
			return Metadata{}, nil, err
		}

		docs := make([]Document, len(sidecar))
		for i, sd := range sidecar {
			docs[i] = Document{ID: sd.ID, Text: sd.Text, Metadata: sd.Metadata}
			if sd.HasVector {
				docs[i].Vector = vectors[sd.ID]
			}
		}
		return meta, docs, nil
	}

	// Legacy form: documentsFile is itself a full JSON array with vectors.
	docs, err := readLegacyDocumentsFile(meta.DocumentsFile)
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, docs, nil
}

// ReadMetadata loads just the metadata descriptor for id.
func ReadMetadata(dir, id string) (Metadata, error) {
	path := metadataPath(dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("%w: reading metadata: %v", ErrIOFailed, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: parsing metadata: %v", ErrCorruptFile, err)
	}
	return meta, nil
}

func readSidecarFile(path string) ([]sidecarDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening documents sidecar: %v", ErrIOFailed, err)
	}
	defer f.Close()
	return ReadDocumentsSidecar(f)
}

type legacyDocument struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Vector   []float32              `json:"vector,omitempty"`
}

func readLegacyDocumentsFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading legacy documents file: %v", ErrIOFailed, err)
	}
	var legacy []legacyDocument
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: parsing legacy documents file: %v", ErrCorruptFile, err)
	}
	docs := make([]Document, len(legacy))
	for i, l := range legacy {
		docs[i] = Document{ID: l.ID, Text: l.Text, Metadata: l.Metadata, Vector: l.Vector}
	}
	return docs, nil
}

// Delete removes the metadata, documents, and (if present) vectors files
// for id. Missing files are not fatal (§4.2 delete path).
func Delete(dir, id string) error {
	paths := []string{metadataPath(dir, id), documentsPath(dir, id), vectorsPath(dir, id)}
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: removing %s: %v", ErrIOFailed, p, err)
			}
		}
	}
	return firstErr
}

// List scans dir for metadata descriptors, optionally filtered by
// namespace prefix, skipping malformed files, sorted by offloadedAt
// descending (§4.4.4 listOffloadedIndices).
func List(dir, namespace string) ([]Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading offload directory: %v", ErrIOFailed, err)
	}

	var out []Metadata
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".metadata.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue // skip malformed, per §4.4.4
		}
		if namespace != "" && !hasNamespacePrefix(meta.ID, namespace) {
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].OffloadedAt.After(out[j].OffloadedAt)
	})

	return out, nil
}

func hasNamespacePrefix(id, namespace string) bool {
	prefix := namespace + ":"
	return strings.HasPrefix(id, prefix)
}

// Exists reports whether an on-disk descriptor for id is present.
func Exists(dir, id string) bool {
	_, err := os.Stat(metadataPath(dir, id))
	return err == nil
}
