package match

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"invoicematch/internal/catalog"
	"invoicematch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMappingStore struct {
	mock.Mock
}

func (m *MockMappingStore) LookupMapping(ctx context.Context, productText, supplierText string) (*model.ProductMapping, error) {
	args := m.Called(ctx, productText, supplierText)
	mapping, _ := args.Get(0).(*model.ProductMapping)
	return mapping, args.Error(1)
}

func testSnapshot() *catalog.Snapshot {
	return catalog.NewSnapshot([]model.CatalogEntry{
		{Key: "ITM001", Description: "LACTOGEN PRO 1 BIB 24x400g INNWPB176"},
		{Key: "ITM002", Description: "LACTOGEN PRO 2 BIB 24x400g INLEB086"},
		{Key: "ITM003", Description: "NAN PRO 2 BIB 24x400g"},
		{Key: "ITM004", Description: "CERELAC WHEAT APPLE 300g"},
	}, Normalize)
}

func TestRank_OrdersByScore(t *testing.T) {
	e := NewEngine()
	results := e.Rank("LACTOGEN PRO1 BIB 24x400g INNWPB176 NP", testSnapshot(), TokenSetRatio, 3, 60)

	require.NotEmpty(t, results)
	assert.Equal(t, "ITM001", results[0].Key)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 94.59, results[0].Score)
	assert.Equal(t, ConfidenceHigh, results[0].Confidence)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		assert.Equal(t, i+1, results[i].Rank)
	}
	assert.LessOrEqual(t, len(results), 3)
}

func TestRank_TiesKeepSnapshotOrder(t *testing.T) {
	snap := catalog.NewSnapshot([]model.CatalogEntry{
		{Key: "A", Description: "nan pro 2"},
		{Key: "B", Description: "lactogen pro 1"},
		{Key: "C", Description: "NAN PRO 2"},
	}, Normalize)

	results := NewEngine().Rank("nan pro 2", snap, TokenSetRatio, 2, 0)

	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Key)
	assert.Equal(t, "C", results[1].Key)
}

func TestRank_CutoffExcludes(t *testing.T) {
	results := NewEngine().Rank("lactogen", catalog.NewSnapshot([]model.CatalogEntry{
		{Key: "X", Description: "nan pro 2"},
	}, nil), TokenSetRatio, 5, 60)
	assert.Empty(t, results)
}

func TestRank_EmptyInputs(t *testing.T) {
	e := NewEngine()
	assert.Empty(t, e.Rank("", testSnapshot(), TokenSetRatio, 3, 0))
	assert.Empty(t, e.Rank("nan", testSnapshot(), TokenSetRatio, 0, 0))
	assert.Empty(t, e.Rank("nan", nil, TokenSetRatio, 3, 0))
}

func TestRank_DeterministicAcrossParallelism(t *testing.T) {
	entries := make([]model.CatalogEntry, 10000)
	for i := range entries {
		entries[i] = model.CatalogEntry{
			Key:         fmt.Sprintf("K%05d", i),
			Description: fmt.Sprintf("PRODUCT %d PACK %d x %dg", i%97, i%13, (i%7)*100),
		}
	}
	snap := catalog.NewSnapshot(entries, Normalize)
	query := "product 42 pack 3 x 300g"

	serial := NewEngine(WithWorkers(1)).Rank(query, snap, TokenSortRatio, 10, 50)
	parallel := NewEngine(WithWorkers(8)).Rank(query, snap, TokenSortRatio, 10, 50)
	again := NewEngine(WithWorkers(8)).Rank(query, snap, TokenSortRatio, 10, 50)

	require.Len(t, serial, 10)
	assert.Equal(t, serial, parallel)
	assert.Equal(t, parallel, again)
}

func TestRankBatch_AlignedWithQueries(t *testing.T) {
	e := NewEngine(WithWorkers(4))
	snap := testSnapshot()
	queries := []string{"NAN PRO 2", "", "CERELAC WHEAT", "LACTOGEN PRO 2"}

	batch := e.RankBatch(queries, snap, TokenSetRatio, 2, 60)

	require.Len(t, batch, len(queries))
	for i, q := range queries {
		assert.Equal(t, e.Rank(q, snap, TokenSetRatio, 2, 60), batch[i], q)
	}
	assert.Equal(t, "ITM003", batch[0][0].Key)
	assert.Empty(t, batch[1])
	assert.Equal(t, "ITM004", batch[2][0].Key)
}

func defaultOptions() MatchOptions {
	return MatchOptions{Scorer: TokenSetRatio, K: 3, Cutoff: 60}
}

func TestMatchItem_ExactMappingWins(t *testing.T) {
	store := new(MockMappingStore)
	store.On("LookupMapping", mock.Anything, "lactogen pro1 bib", "nestle india pvt ltd").
		Return(&model.ProductMapping{CatalogKey: "ITM001", CatalogDescription: "LACTOGEN PRO 1 BIB 24x400g INNWPB176"}, nil)
	e := NewEngine(WithMappingStore(store))

	m := e.MatchItem(context.Background(), Query{Product: "LACTOGEN PRO1 BIB", Supplier: "Nestle India Pvt. Ltd."}, testSnapshot(), defaultOptions())

	assert.Equal(t, NatureExisting, m.Nature)
	assert.Equal(t, ExactHit, m.ExactLookup)
	require.NotNil(t, m.Best)
	assert.Equal(t, "ITM001", m.Best.Key)
	assert.Equal(t, 100.0, m.Best.Score)
	assert.Empty(t, m.Candidates)
	store.AssertExpectations(t)
}

func TestMatchItem_MissFallsBackToRanking(t *testing.T) {
	store := new(MockMappingStore)
	store.On("LookupMapping", mock.Anything, "nan pro 2", "nestle").Return(nil, nil)
	e := NewEngine(WithMappingStore(store))

	m := e.MatchItem(context.Background(), Query{Product: "NAN PRO 2", Supplier: "Nestle"}, testSnapshot(), defaultOptions())

	assert.Equal(t, ExactMiss, m.ExactLookup)
	assert.Equal(t, NatureNewMapped, m.Nature)
	assert.Equal(t, "ITM003", m.Best.Key)
	assert.False(t, m.NeedsReview)
}

func TestMatchItem_MissingSupplierSkipsLookup(t *testing.T) {
	store := new(MockMappingStore)
	e := NewEngine(WithMappingStore(store))
	snap := catalog.NewSnapshot([]model.CatalogEntry{
		{Key: "ITM001", Description: "LACTOGEN PRO 1 BIB 24x400g INNWPB176"},
	}, Normalize)

	m := e.MatchItem(context.Background(), Query{Product: "LACTOGEN PRO3", Supplier: "  "}, snap, defaultOptions())

	store.AssertNotCalled(t, "LookupMapping", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, ExactSkipped, m.ExactLookup)
	assert.Equal(t, SkipMissingSupplier, m.SkipReason)
	assert.Equal(t, ConfidenceMedium, m.Confidence)
	assert.Equal(t, 76.19, m.Best.Score)
	assert.True(t, m.NeedsReview)
}

func TestMatchItem_LookupErrorFallsBack(t *testing.T) {
	store := new(MockMappingStore)
	store.On("LookupMapping", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	e := NewEngine(WithMappingStore(store))

	m := e.MatchItem(context.Background(), Query{Product: "CERELAC WHEAT", Supplier: "Nestle"}, testSnapshot(), defaultOptions())

	assert.Equal(t, ExactError, m.ExactLookup)
	assert.Equal(t, "ITM004", m.Best.Key)
}

func TestMatchItem_NoStoreAndEmptyProduct(t *testing.T) {
	e := NewEngine()

	m := e.MatchItem(context.Background(), Query{Product: "NAN PRO 2", Supplier: "Nestle"}, testSnapshot(), defaultOptions())
	assert.Equal(t, SkipNoStore, m.SkipReason)
	assert.Equal(t, NatureNewMapped, m.Nature)

	m = e.MatchItem(context.Background(), Query{Product: " ", Supplier: "Nestle"}, testSnapshot(), defaultOptions())
	assert.Equal(t, SkipMissingProduct, m.SkipReason)
	assert.Equal(t, NatureNotMatched, m.Nature)
	assert.Equal(t, ConfidenceNone, m.Confidence)
	assert.Nil(t, m.Best)
	assert.NotNil(t, m.Candidates)
}

func TestMatchItem_NothingAboveCutoff(t *testing.T) {
	m := NewEngine().MatchItem(context.Background(), Query{Product: "zzzz qqqq"}, testSnapshot(), defaultOptions())
	assert.Equal(t, NatureNotMatched, m.Nature)
	assert.Equal(t, ConfidenceNone, m.Confidence)
	assert.True(t, m.NeedsReview)
}
