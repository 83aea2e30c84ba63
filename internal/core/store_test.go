package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore[model.Snapshot]()

	_, found, err := store.Load(ctx, testAddress)
	require.NoError(t, err)
	assert.False(t, found)

	snapshot := model.Snapshot{ManualTemp: model.Ptr(21.0)}
	require.NoError(t, store.Save(ctx, testAddress, snapshot))

	loaded, found, err := store.Load(ctx, testAddress)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snapshot, loaded)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore[model.Snapshot](dbPath)
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()

	ctx := context.Background()

	t.Run("Load returns not found when unset", func(t *testing.T) {
		_, found, err := store.Load(ctx, "AA:AA:AA:AA:AA:AA")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Save and Load", func(t *testing.T) {
		snapshot := model.Snapshot{
			Battery:     model.Ptr(55),
			ManualTemp:  model.Ptr(21.5),
			TempOffset:  model.Ptr(-1.0),
			WindowOpen:  model.Ptr(false),
			CurrentTemp: model.Ptr(20.0),
		}
		require.NoError(t, store.Save(ctx, testAddress, snapshot))

		loaded, found, err := store.Load(ctx, testAddress)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, snapshot, loaded)
	})

	t.Run("Save overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, testAddress, model.Snapshot{Battery: model.Ptr(10)}))

		loaded, _, err := store.Load(ctx, testAddress)
		require.NoError(t, err)
		assert.Equal(t, 10, *loaded.Battery)
		assert.Nil(t, loaded.ManualTemp)
	})

	t.Run("persists across reopen", func(t *testing.T) {
		reopened, err := NewSQLiteStore[model.Snapshot](dbPath)
		require.NoError(t, err)
		defer func() {
			_ = reopened.Close()
		}()

		loaded, found, err := reopened.Load(ctx, testAddress)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 10, *loaded.Battery)
	})
}

func TestSQLiteStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("schema failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS device_snapshots").WillReturnError(errors.New("database is locked"))

		_, err = NewSQLiteStoreFromDB[model.Snapshot](db)
		assert.ErrorContains(t, err, "initializing schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS device_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT body FROM device_snapshots").
			WithArgs(testAddress).
			WillReturnError(errors.New("disk I/O error"))

		store, err := NewSQLiteStoreFromDB[model.Snapshot](db)
		require.NoError(t, err)

		_, found, err := store.Load(ctx, testAddress)
		assert.ErrorContains(t, err, "querying snapshot")
		assert.False(t, found)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt body", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS device_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT body FROM device_snapshots").
			WithArgs(testAddress).
			WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow("{not json"))

		store, err := NewSQLiteStoreFromDB[model.Snapshot](db)
		require.NoError(t, err)

		_, _, err = store.Load(ctx, testAddress)
		assert.ErrorContains(t, err, "decoding snapshot")
	})

	t.Run("save failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS device_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO device_snapshots").
			WithArgs(testAddress, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(errors.New("readonly database"))

		store, err := NewSQLiteStoreFromDB[model.Snapshot](db)
		require.NoError(t, err)

		err = store.Save(ctx, testAddress, model.Snapshot{Battery: model.Ptr(1)})
		assert.ErrorContains(t, err, "saving snapshot")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
