package claimclustering

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boringdata/kurt/pkg/models"
)

type fakeGroupStore struct {
	rows []*models.ClaimGroupRow
}

func (s *fakeGroupStore) InsertClaimGroup(_ context.Context, row *models.ClaimGroupRow) error {
	cp := *row
	s.rows = append(s.rows, &cp)
	return nil
}

type fakeFinder struct {
	matches []*models.Claim
	err     error
}

func (f *fakeFinder) FindSimilar(_ context.Context, _ []float32, _ float64, _ int) ([]*models.Claim, error) {
	return f.matches, f.err
}

func section(docID, sectionID string, claims ...models.SectionClaim) *models.SectionExtractionRow {
	return &models.SectionExtractionRow{
		DocumentID: docID,
		SectionID:  sectionID,
		Claims:     claims,
	}
}

func claim(statement, claimType string, confidence float64) models.SectionClaim {
	return models.SectionClaim{
		Statement:     statement,
		ClaimType:     claimType,
		Confidence:    confidence,
		EntityIndices: []int{0},
	}
}

// embeddingFor returns a deterministic embedding where similar
// statements land close together: one dimension carries the
// statement's identity, letting tests control similarity precisely.
func embeddingFor(group float32) EmbedFunc {
	return func(_ context.Context, _ string) ([]float32, error) {
		return []float32{group, 1 - group}, nil
	}
}

func TestClaimHashIsCaseAndWhitespaceInsensitive(t *testing.T) {
	a := ClaimHash("The sky  is BLUE", "fact", "doc-1")
	b := ClaimHash("the sky is blue", "fact", "doc-1")
	assert.Equal(t, a, b)

	c := ClaimHash("the sky is blue", "fact", "doc-2")
	assert.NotEqual(t, a, c)
}

func TestCollectDefaultsInvalidClaimType(t *testing.T) {
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim("X does Y", "not-a-real-type", 0.9)),
	}
	occurrences := Collect(sections)
	require.Len(t, occurrences, 1)
	assert.Equal(t, models.ClaimTypeDefinition, occurrences[0].ClaimType)
}

func TestCollectSkipsEmptyStatements(t *testing.T) {
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim("   ", "fact", 0.5), claim("real claim", "fact", 0.5)),
	}
	occurrences := Collect(sections)
	require.Len(t, occurrences, 1)
	assert.Equal(t, "real claim", occurrences[0].Statement)
}

func TestClusterMergesAcrossDocumentsWhenSimilarityClearsThreshold(t *testing.T) {
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim("Kurt is a content pipeline", "definition", 0.9)),
		section("doc-2", "sec-1", claim("Kurt is a content pipeline", "definition", 0.95)),
	}
	occurrences := Collect(sections)

	embed := func(ctx context.Context, text string) ([]float32, error) {
		// Identical normalized text -> identical embedding -> similarity 1.0.
		return []float32{1, 0}, nil
	}

	out, err := Cluster(context.Background(), occurrences, &fakeFinder{}, embed, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, out[0].ClusterID, out[1].ClusterID)

	// Higher confidence occurrence (doc-2) becomes canonical.
	var createNew, duplicate *Occurrence
	for i := range out {
		if out[i].Decision == "CREATE_NEW" {
			createNew = &out[i]
		} else {
			duplicate = &out[i]
		}
	}
	require.NotNil(t, createNew)
	require.NotNil(t, duplicate)
	assert.Equal(t, "doc-2", createNew.DocumentID)
	assert.Equal(t, fmt.Sprintf("DUPLICATE_OF:%s", createNew.ClaimHash), duplicate.Decision)
}

func TestClusterKeepsDissimilarClaimsSeparate(t *testing.T) {
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim("Kurt fetches web pages", "capability", 0.8)),
		section("doc-1", "sec-2", claim("Qdrant stores vectors", "definition", 0.8)),
	}
	occurrences := Collect(sections)

	embed := func(ctx context.Context, text string) ([]float32, error) {
		if text == "Kurt fetches web pages" {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	}

	out, err := Cluster(context.Background(), occurrences, &fakeFinder{}, embed, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].ClusterID, out[1].ClusterID)
	assert.Equal(t, "CREATE_NEW", out[0].Decision)
	assert.Equal(t, "CREATE_NEW", out[1].Decision)
}

func TestClusterMergesWithExistingClaimWhenFinderMatches(t *testing.T) {
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim("Kurt is a content pipeline", "definition", 0.9)),
	}
	occurrences := Collect(sections)
	finder := &fakeFinder{matches: []*models.Claim{{ClaimHash: "existing-hash-123"}}}

	out, err := Cluster(context.Background(), occurrences, finder, embeddingFor(1), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "MERGE_WITH:existing-hash-123", out[0].Decision)
}

func TestClusterFallsBackToPrefixGroupingWithoutEmbeddings(t *testing.T) {
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim("A very long repeated introductory phrase that continues on and on for well over one hundred characters before diverging one way", "fact", 0.6)),
		section("doc-2", "sec-1", claim("A very long repeated introductory phrase that continues on and on for well over one hundred characters before diverging another way", "fact", 0.7)),
	}
	occurrences := Collect(sections)

	out, err := Cluster(context.Background(), occurrences, &fakeFinder{}, nil, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, out[0].ClusterID, out[1].ClusterID)
}

func TestPersistTruncatesStoredStatementButKeepsCanonicalFullLength(t *testing.T) {
	long := make([]byte, 1500)
	for i := range long {
		long[i] = 'a'
	}
	sections := []*models.SectionExtractionRow{
		section("doc-1", "sec-1", claim(string(long), "fact", 0.5)),
	}
	occurrences := Collect(sections)
	out, err := Cluster(context.Background(), occurrences, &fakeFinder{}, nil, DefaultOptions())
	require.NoError(t, err)

	store := &fakeGroupStore{}
	summary, err := Persist(context.Background(), store, "wf-1", out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ClaimsProcessed)
	assert.Equal(t, 1, summary.ClustersCreated)
	require.Len(t, store.rows, 1)
	assert.Len(t, store.rows[0].Statement, maxStoredStatementLen)
	require.NotNil(t, store.rows[0].CanonicalStatement)
	assert.Len(t, *store.rows[0].CanonicalStatement, 1500)
}
