// Package claimclustering implements the deterministic algorithm that
// turns every claim surfaced across a workflow's section extractions
// into a set of staging_claim_groups rows: one per occurrence, each
// carrying a CREATE_NEW / MERGE_WITH:<hash> / DUPLICATE_OF:<hash>
// decision. It has no teacher analog (TARSy has no claim concept) and
// is built directly from the algorithm spec describes, using
// pkg/repository/claims.go's cosineSimilarity formula for the
// embedding-distance metric and a union-find for the agglomerative
// merge step, the idiomatic Go shape for single-linkage clustering
// over a small in-memory point set.
package claimclustering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/boringdata/kurt/pkg/models"
)

// DefaultSimilarityThreshold is the cosine-similarity cutoff above
// which two claim statements are considered the same assertion.
const DefaultSimilarityThreshold = 0.88

// maxStoredStatementLen caps the per-occurrence statement persisted to
// staging_claim_groups; the canonical statement used downstream by
// claim resolution is never truncated.
const maxStoredStatementLen = 1000

const fallbackPrefixLen = 100

// Options configures one clustering run.
type Options struct {
	SimilarityThreshold float64
}

func DefaultOptions() Options {
	return Options{SimilarityThreshold: DefaultSimilarityThreshold}
}

func (o Options) threshold() float64 {
	if o.SimilarityThreshold <= 0 {
		return DefaultSimilarityThreshold
	}
	return o.SimilarityThreshold
}

// EmbedFunc computes an embedding for a claim statement. A nil
// EmbedFunc, or one that returns an error for any occurrence, causes
// Cluster to fall back to normalized-prefix grouping for the whole
// run — deterministic but losing semantic coverage, per spec's
// explicit "do not silently fix" note on this behavior.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// ExistingClaimFinder is the subset of pkg/repository.ClaimRepository
// claim clustering needs: embedding-similarity lookup against already
// persisted claims. Narrowed to an interface so tests can substitute a
// fake without a database.
type ExistingClaimFinder interface {
	FindSimilar(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]*models.Claim, error)
}

// GroupStore is the subset of pkg/repository.StagingRepository claim
// clustering writes through.
type GroupStore interface {
	InsertClaimGroup(ctx context.Context, row *models.ClaimGroupRow) error
}

// Occurrence is one claim instance gathered from a section
// extraction, carrying everything needed to persist a claim_groups row
// once clustering assigns it a decision.
type Occurrence struct {
	DocumentID    string
	SectionID     string
	ClaimType     models.ClaimType
	Statement     string
	Confidence    float64
	SourceQuote   *string
	EntityIndices []int
	ClaimHash     string
	Embedding     []float32

	ClusterID          int
	ClusterSize        int
	Decision           string
	CanonicalStatement string
	SimilarExisting    []string
}

// Summary reports what one clustering run produced.
type Summary struct {
	ClaimsProcessed int
	ClustersCreated int
}

// ClaimHash computes the identity hash for a claim occurrence:
// SHA-256 of its normalized statement, claim type, and document id.
// Identical normalized statements within the same document always
// hash identically; this is the equality test "claim_hash equality
// iff normalized statements equal" relies on.
func ClaimHash(statement, claimType, documentID string) string {
	normalized := normalizeStatement(statement)
	sum := sha256.Sum256([]byte(normalized + "|" + claimType + "|" + documentID))
	return hex.EncodeToString(sum[:])
}

// normalizeStatement lowercases and collapses whitespace, the only
// normalization claim_hash applies — case-only differences and
// whitespace-only differences hash identically.
func normalizeStatement(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Collect gathers every non-empty claim across sections into
// Occurrences, defaulting an invalid claim_type to "definition" and
// preserving entity_indices verbatim.
func Collect(sections []*models.SectionExtractionRow) []Occurrence {
	var out []Occurrence
	for _, sec := range sections {
		for _, c := range sec.Claims {
			statement := strings.TrimSpace(c.Statement)
			if statement == "" {
				continue
			}
			claimType := models.ClaimType(c.ClaimType)
			if !models.IsValidClaimType(c.ClaimType) {
				claimType = models.ClaimTypeDefinition
			}

			var quote *string
			if trimmed := strings.TrimSpace(c.SourceQuote); trimmed != "" {
				quote = &trimmed
			}

			out = append(out, Occurrence{
				DocumentID:    sec.DocumentID,
				SectionID:     sec.SectionID,
				ClaimType:     claimType,
				Statement:     statement,
				Confidence:    c.Confidence,
				SourceQuote:   quote,
				EntityIndices: append([]int(nil), c.EntityIndices...),
				ClaimHash:     ClaimHash(statement, string(claimType), sec.DocumentID),
			})
		}
	}
	return out
}

// Cluster groups occurrences by statement similarity (agglomerative,
// single-linkage cosine distance, threshold from opts) and resolves
// each cluster against previously persisted claims via finder,
// assigning every occurrence its CREATE_NEW / MERGE_WITH:<hash> /
// DUPLICATE_OF:<hash> decision. occurrences is mutated in place and
// also returned for convenience.
func Cluster(ctx context.Context, occurrences []Occurrence, finder ExistingClaimFinder, embed EmbedFunc, opts Options) ([]Occurrence, error) {
	if len(occurrences) == 0 {
		return occurrences, nil
	}
	threshold := opts.threshold()

	usingEmbeddings := embed != nil
	if usingEmbeddings {
		for i := range occurrences {
			emb, err := embed(ctx, occurrences[i].Statement)
			if err != nil {
				usingEmbeddings = false
				break
			}
			occurrences[i].Embedding = emb
		}
	}

	assignClusterIDs(occurrences, usingEmbeddings, threshold)
	byCluster := groupByCluster(occurrences)

	for clusterID, members := range byCluster {
		similarExisting := resolveAgainstExisting(ctx, occurrences, members, finder, usingEmbeddings, threshold)
		assignDecisions(occurrences, members, similarExisting)
		for _, idx := range members {
			occurrences[idx].ClusterID = clusterID
			occurrences[idx].ClusterSize = len(members)
		}
	}

	return occurrences, nil
}

// assignClusterIDs runs union-find over all pairs whose similarity (or,
// in fallback mode, 100-char normalized-prefix equality) clears
// threshold, then assigns each occurrence a 0-based cluster id.
func assignClusterIDs(occurrences []Occurrence, usingEmbeddings bool, threshold float64) {
	n := len(occurrences)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	if usingEmbeddings {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if cosineSimilarity(occurrences[i].Embedding, occurrences[j].Embedding) >= threshold {
					union(i, j)
				}
			}
		}
	} else {
		prefixes := make([]string, n)
		for i, o := range occurrences {
			prefixes[i] = normalizedPrefix(o.Statement, fallbackPrefixLen)
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if prefixes[i] == prefixes[j] {
					union(i, j)
				}
			}
		}
	}

	rootToID := make(map[int]int)
	nextID := 0
	for i := 0; i < n; i++ {
		root := find(i)
		id, ok := rootToID[root]
		if !ok {
			id = nextID
			nextID++
			rootToID[root] = id
		}
		occurrences[i].ClusterID = id
	}
}

func groupByCluster(occurrences []Occurrence) map[int][]int {
	byCluster := make(map[int][]int)
	for i, o := range occurrences {
		byCluster[o.ClusterID] = append(byCluster[o.ClusterID], i)
	}
	return byCluster
}

// resolveAgainstExisting queries finder for claims similar to any
// member of the cluster, returning the distinct set of matched claim
// hashes in discovery order. Embeddings are required for this lookup;
// when clustering fell back to prefix grouping there is nothing to
// query with and this returns nil.
func resolveAgainstExisting(ctx context.Context, occurrences []Occurrence, members []int, finder ExistingClaimFinder, usingEmbeddings bool, threshold float64) []string {
	if !usingEmbeddings || finder == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var hashes []string
	for _, idx := range members {
		emb := occurrences[idx].Embedding
		if len(emb) == 0 {
			continue
		}
		matches, err := finder.FindSimilar(ctx, emb, threshold, 5)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if _, ok := seen[m.ClaimHash]; ok {
				continue
			}
			seen[m.ClaimHash] = struct{}{}
			hashes = append(hashes, m.ClaimHash)
		}
	}
	return hashes
}

// assignDecisions orders a cluster's members by confidence descending
// (claim_hash ascending breaks ties deterministically) and assigns:
// every member MERGE_WITH the first similar existing claim when one
// was found, otherwise the highest-confidence member becomes
// CREATE_NEW (its statement is canonical) and every other member
// becomes DUPLICATE_OF that occurrence's claim_hash.
func assignDecisions(occurrences []Occurrence, members []int, similarExisting []string) {
	sort.Slice(members, func(a, b int) bool {
		oa, ob := occurrences[members[a]], occurrences[members[b]]
		if oa.Confidence != ob.Confidence {
			return oa.Confidence > ob.Confidence
		}
		return oa.ClaimHash < ob.ClaimHash
	})

	if len(similarExisting) > 0 {
		// similarExisting[0] is the canonical existing match. Only the
		// decision string is recorded: similarExisting holds claim
		// hashes, so MERGE_WITH rows carry no canonical statement, and
		// claimresolution links them to the existing claim without
		// writing that claim's statement back to the staged row.
		for _, idx := range members {
			occurrences[idx].Decision = "MERGE_WITH:" + similarExisting[0]
			occurrences[idx].SimilarExisting = similarExisting
		}
		return
	}

	canonical := occurrences[members[0]]
	for i, idx := range members {
		occurrences[idx].SimilarExisting = nil
		if i == 0 {
			occurrences[idx].Decision = "CREATE_NEW"
			occurrences[idx].CanonicalStatement = canonical.Statement
			continue
		}
		occurrences[idx].Decision = "DUPLICATE_OF:" + canonical.ClaimHash
		occurrences[idx].CanonicalStatement = canonical.Statement
	}
}

// Persist writes every occurrence to store as one staging_claim_groups
// row, truncating the stored (not canonical) statement to 1000 chars.
func Persist(ctx context.Context, store GroupStore, workflowID string, occurrences []Occurrence) (Summary, error) {
	clusters := make(map[int]struct{})
	for _, o := range occurrences {
		clusters[o.ClusterID] = struct{}{}

		statement := o.Statement
		if len(statement) > maxStoredStatementLen {
			statement = statement[:maxStoredStatementLen]
		}
		var canonical *string
		if o.CanonicalStatement != "" {
			c := o.CanonicalStatement
			canonical = &c
		}

		row := &models.ClaimGroupRow{
			WorkflowID:         workflowID,
			ClaimHash:          o.ClaimHash,
			DocumentID:         o.DocumentID,
			SectionID:          o.SectionID,
			ClaimType:          o.ClaimType,
			Statement:          statement,
			Confidence:         o.Confidence,
			SourceQuote:        o.SourceQuote,
			ClusterID:          o.ClusterID,
			ClusterSize:        o.ClusterSize,
			Decision:           o.Decision,
			CanonicalStatement: canonical,
			EntityIndices:      o.EntityIndices,
			SimilarExisting:    o.SimilarExisting,
		}
		if err := store.InsertClaimGroup(ctx, row); err != nil {
			return Summary{}, fmt.Errorf("persist claim group %s: %w", o.ClaimHash, err)
		}
	}
	return Summary{ClaimsProcessed: len(occurrences), ClustersCreated: len(clusters)}, nil
}

// Run collects claims from sections, clusters them, and persists the
// resulting claim_groups rows, returning the processed/cluster counts.
func Run(ctx context.Context, store GroupStore, finder ExistingClaimFinder, workflowID string, sections []*models.SectionExtractionRow, embed EmbedFunc, opts Options) (Summary, error) {
	occurrences := Collect(sections)
	occurrences, err := Cluster(ctx, occurrences, finder, embed, opts)
	if err != nil {
		return Summary{}, err
	}
	return Persist(ctx, store, workflowID, occurrences)
}

func normalizedPrefix(statement string, n int) string {
	normalized := normalizeStatement(statement)
	if len(normalized) <= n {
		return normalized
	}
	return normalized[:n]
}

// cosineSimilarity mirrors pkg/repository/claims.go's unexported
// helper of the same name and formula; duplicated rather than
// exported across a package boundary that otherwise has no reason to
// depend on pkg/repository.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
