package app

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	upCalled   bool
	downCalled bool
	steps      []int
	err        error
	version    uint
	dirty      bool
}

func (m *fakeMigrator) Up() error {
	m.upCalled = true
	return m.err
}

func (m *fakeMigrator) Down() error {
	m.downCalled = true
	return m.err
}

func (m *fakeMigrator) Steps(n int) error {
	m.steps = append(m.steps, n)
	return m.err
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, m.err
}

func (*fakeMigrator) Close() (error, error) { return nil, nil }

func TestExecuteMigrateUp(t *testing.T) {
	t.Parallel()

	t.Run("all steps", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{}
		require.NoError(t, executeMigrateUp(m, 0))
		assert.True(t, m.upCalled)
		assert.Empty(t, m.steps)
	})

	t.Run("bounded steps", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{}
		require.NoError(t, executeMigrateUp(m, 2))
		assert.False(t, m.upCalled)
		assert.Equal(t, []int{2}, m.steps)
	})

	t.Run("no change is not an error", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{err: migrate.ErrNoChange}
		require.NoError(t, executeMigrateUp(m, 0))
	})

	t.Run("migration failure", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{err: errors.New("schema locked")}
		err := executeMigrateUp(m, 0)
		assert.ErrorContains(t, err, "migration failed")
	})
}

func TestExecuteMigrateDown(t *testing.T) {
	t.Parallel()

	t.Run("all steps", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{}
		require.NoError(t, executeMigrateDown(m, 0))
		assert.True(t, m.downCalled)
		assert.Empty(t, m.steps)
	})

	t.Run("bounded steps revert", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{}
		require.NoError(t, executeMigrateDown(m, 3))
		assert.False(t, m.downCalled)
		assert.Equal(t, []int{-3}, m.steps)
	})

	t.Run("no change is not an error", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{err: migrate.ErrNoChange}
		require.NoError(t, executeMigrateDown(m, 1))
	})
}
