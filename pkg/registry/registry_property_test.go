package registry_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/verdantlabs/agritrace/pkg/registry"
	"github.com/verdantlabs/agritrace/pkg/store"
)

// TestCreateNodeIDsPairwiseDistinct verifies id uniqueness.
// Property: for any N creations, the returned ids are pairwise distinct.
func TestCreateNodeIDsPairwiseDistinct(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("created ids are pairwise distinct", prop.ForAll(
		func(n int) bool {
			svc := registry.New(store.NewMemoryStore())
			seen := make(map[string]struct{}, n)
			for i := 0; i < n; i++ {
				node, err := svc.CreateNode(context.Background(), registry.CreateNodeInput{Type: "farm_batch"})
				if err != nil {
					return false
				}
				if _, dup := seen[node.ID]; dup {
					return false
				}
				seen[node.ID] = struct{}{}
			}
			return true
		},
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
