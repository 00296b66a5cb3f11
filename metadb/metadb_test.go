// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package metadb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/temporal/types"
)

func TestMetaDBFreshLoad(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer db.Close()

	state, err := db.Load()
	require.NoError(t, err)
	require.Equal(t, types.PersistentState{}, state)
}

func TestMetaDBCommitAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := Open(path)
	require.NoError(t, err)

	want := types.PersistentState{
		NextSegmentID:  7,
		SealedSegments: 6,
		LastCheckpoint: types.TimestampFromSecs(1234),
	}
	require.NoError(t, db.Commit(want))

	got, err := db.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()
	got, err = db2.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestMetaDBExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	// bbolt holds an exclusive flock; a second open times out.
	_, err = Open(path)
	require.ErrorIs(t, err, types.ErrStorage)
}
