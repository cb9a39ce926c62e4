package inmemdb_test

import (
	"testing"

	"github.com/trezcool/masomo-lifecycle/tests"
)

func TestStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) testutil.Store {
		return testutil.NewMemStore(t)
	})
}
