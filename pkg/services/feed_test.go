package services

import (
	"testing"

	"chitter/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chit(id, authorID, createdAt int64) model.Chit {
	return model.Chit{ChitID: id, AuthorID: authorID, CreatedAt: createdAt}
}

func TestChitLessNewestFirst(t *testing.T) {
	assert.True(t, chitLess(chit(1, 1, 200), chit(2, 1, 100)))
	assert.False(t, chitLess(chit(1, 1, 100), chit(2, 1, 200)))
}

func TestChitLessTieBreakByID(t *testing.T) {
	// same second: lower chit id sorts first
	assert.True(t, chitLess(chit(5, 1, 100), chit(9, 2, 100)))
	assert.False(t, chitLess(chit(9, 1, 100), chit(5, 2, 100)))
}

func TestSortChitsDeterministicTotalOrder(t *testing.T) {
	chits := []model.Chit{
		chit(30, 1, 100),
		chit(10, 2, 300),
		chit(20, 3, 100),
		chit(40, 1, 300),
	}
	sortChits(chits)
	ids := []int64{chits[0].ChitID, chits[1].ChitID, chits[2].ChitID, chits[3].ChitID}
	assert.Equal(t, []int64{10, 40, 20, 30}, ids)
}

func TestPageAfterFirstPage(t *testing.T) {
	chits := []model.Chit{chit(1, 1, 300), chit(2, 1, 200), chit(3, 1, 100)}
	page, next := pageAfter(chits, nil, 2)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].ChitID)
	assert.Equal(t, int64(2), page[1].ChitID)
	assert.Equal(t, model.FeedCursor{CreatedAt: 200, ChitID: 2}.Encode(), next)
}

func TestPageAfterResumesAfterCursor(t *testing.T) {
	chits := []model.Chit{chit(1, 1, 300), chit(2, 1, 200), chit(3, 1, 100)}
	page, next := pageAfter(chits, &model.FeedCursor{CreatedAt: 200, ChitID: 2}, 2)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].ChitID)
	assert.Empty(t, next)
}

func TestPageAfterCursorWithinSameSecond(t *testing.T) {
	chits := []model.Chit{chit(4, 1, 100), chit(7, 1, 100), chit(9, 1, 100)}
	page, _ := pageAfter(chits, &model.FeedCursor{CreatedAt: 100, ChitID: 4}, 10)
	require.Len(t, page, 2)
	assert.Equal(t, int64(7), page[0].ChitID)
	assert.Equal(t, int64(9), page[1].ChitID)
}

func TestPageAfterCursorChitDeleted(t *testing.T) {
	// the cursor chit disappeared in between; the page still resumes at the
	// right position
	chits := []model.Chit{chit(1, 1, 300), chit(3, 1, 100)}
	page, _ := pageAfter(chits, &model.FeedCursor{CreatedAt: 200, ChitID: 2}, 10)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].ChitID)
}

func TestPageAfterExhausted(t *testing.T) {
	chits := []model.Chit{chit(1, 1, 300)}
	page, next := pageAfter(chits, &model.FeedCursor{CreatedAt: 300, ChitID: 1}, 10)
	assert.Empty(t, page)
	assert.Empty(t, next)
}

func TestPageAfterFullLastPageHasNoCursor(t *testing.T) {
	chits := []model.Chit{chit(1, 1, 300), chit(2, 1, 200)}
	page, next := pageAfter(chits, nil, 2)
	require.Len(t, page, 2)
	assert.Empty(t, next)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultFeedLimit, clampLimit(0))
	assert.Equal(t, defaultFeedLimit, clampLimit(-5))
	assert.Equal(t, 42, clampLimit(42))
	assert.Equal(t, maxFeedLimit, clampLimit(10000))
}

func TestDedupAuthors(t *testing.T) {
	ids := dedupAuthors([]int64{3, 1, 3, 2, 1})
	assert.Equal(t, []int64{3, 1, 2}, ids)
}

func TestPersonalAuthorsViewerAndFollowees(t *testing.T) {
	authors := personalAuthors(1, []int64{2, 3, 2})
	assert.ElementsMatch(t, []int64{1, 2, 3}, authors)
}

func TestPersonalAuthorsNoFollowees(t *testing.T) {
	assert.Equal(t, []int64{1}, personalAuthors(1, nil))
}

func TestPersonalAuthorsViewerAlreadyFollowed(t *testing.T) {
	// a self-edge can never exist, but a stale cache could still report one
	authors := personalAuthors(1, []int64{1, 2})
	assert.ElementsMatch(t, []int64{1, 2}, authors)
}

// A personal feed drawn from the visibility set is a subset of the global
// feed and carries only chits by the viewer or the viewer's followees.
func TestPersonalFeedSubsetOfGlobal(t *testing.T) {
	byAuthor := map[int64][]model.Chit{
		1: {chit(10, 1, 300), chit(11, 1, 100)},
		2: {chit(20, 2, 250)},
		3: {chit(30, 3, 400), chit(31, 3, 250)},
	}

	var global []model.Chit
	for _, chits := range byAuthor {
		global = append(global, chits...)
	}
	sortChits(global)
	globalIDs := make(map[int64]bool, len(global))
	for _, c := range global {
		globalIDs[c.ChitID] = true
	}

	viewerID := int64(1)
	followees := []int64{2}
	var personal []model.Chit
	for _, author := range personalAuthors(viewerID, followees) {
		personal = append(personal, byAuthor[author]...)
	}
	sortChits(personal)

	visible := map[int64]bool{1: true, 2: true}
	require.Len(t, personal, 3)
	for _, c := range personal {
		assert.True(t, visible[c.AuthorID], "chit %d by author %d is outside the follow graph", c.ChitID, c.AuthorID)
		assert.True(t, globalIDs[c.ChitID])
	}
	// the order matches the global feed's relative order
	assert.Equal(t, int64(10), personal[0].ChitID)
	assert.Equal(t, int64(20), personal[1].ChitID)
	assert.Equal(t, int64(11), personal[2].ChitID)
}
