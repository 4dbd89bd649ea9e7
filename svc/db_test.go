package svc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewStatRoundTrip(t *testing.T) {
	s := newTestSvc(t)

	id := []byte("main/abcd/refs/heads/main")

	stat, err := getViewStatFromDb(s.db, id)
	require.NoError(t, err)
	assert.Nil(t, stat)

	want := &ViewStat{
		SourceCommit:    "0123456789012345678901234567890123456789",
		ViewCommit:      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ResolveCount:    3,
		LastResolveUnix: 1714500000,
	}
	require.NoError(t, putViewStatToDb(s.db, id, want))

	got, err := getViewStatFromDb(s.db, id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestListViews(t *testing.T) {
	s := newTestSvc(t)

	require.NoError(t, putViewStatToDb(s.db, []byte("one"), &ViewStat{ResolveCount: 1}))
	require.NoError(t, putViewStatToDb(s.db, []byte("two"), &ViewStat{ResolveCount: 2}))

	views, err := s.ListViews()
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.EqualValues(t, 1, views["one"].ResolveCount)
	assert.EqualValues(t, 2, views["two"].ResolveCount)
}

func TestNilDb(t *testing.T) {
	_, err := getViewStatFromDb(nil, []byte("x"))
	assert.ErrorIs(t, err, ErrNilDB)

	err = putViewStatToDb(nil, []byte("x"), &ViewStat{})
	assert.ErrorIs(t, err, ErrNilDB)
}
