package buddy_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tinykern/kalloc/hostmem"
	"github.com/tinykern/kalloc/mem"
)

func mapRegion(t *testing.T, size, align mem.Size) *hostmem.Region {
	t.Helper()

	region, err := hostmem.Map(size, align)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, region.Close())
	})

	return region
}

func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()

	defer func() {
		t.Helper()

		r := recover()
		require.NotNil(t, r, "expected a fatal error wrapping %v", target)

		err, isErr := r.(error)
		require.Truef(t, isErr, "expected the panic value to be an error, got %T", r)
		require.Truef(t, errors.Is(err, target), "expected %v, got %v", target, err)
	}()

	fn()
}
