package resolve

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// ClusterResult pairs a cluster with its resolution outcome. A per-cluster
// failure is carried in Err rather than aborting the batch.
type ClusterResult struct {
	Cluster model.VersionCluster
	Results []model.ResolutionResult
	Err     error
}

// ResolveAll resolves clusters with bounded concurrency. Results are
// returned in cluster order. Only a context error is returned as the
// batch-level error.
func (r *Resolver) ResolveAll(ctx context.Context, clusters []model.VersionCluster, docs map[string]*model.Document, concurrency int) ([]ClusterResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make([]ClusterResult, len(clusters))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, cluster := range clusters {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results, err := r.Resolve(cluster, docs)
			out[i] = ClusterResult{Cluster: cluster, Results: results, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
