package provision

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edvin/agentctl/internal/config"
)

// Fleet provisions the same agent across every cluster of a deployment
// config, sequentially. Cluster clients are built through an injected
// constructor so tests can substitute fakes.
type Fleet struct {
	logger       zerolog.Logger
	newDirectory func(cluster config.Cluster) Directory
	managerOpts  []ManagerOption
}

// NewFleet creates a Fleet. managerOpts are applied to the per-cluster
// Manager (retry/poll policies, user aliases).
func NewFleet(newDirectory func(config.Cluster) Directory, logger zerolog.Logger, managerOpts ...ManagerOption) *Fleet {
	return &Fleet{
		logger:       logger.With().Str("component", "fleet").Logger(),
		newDirectory: newDirectory,
		managerOpts:  managerOpts,
	}
}

// Provision runs the create flow once per cluster and tallies the
// results. A cluster that fails connectivity or provisioning is counted
// and the run moves on; overall success requires every cluster to
// succeed.
//
// When a cluster's descriptor carries admin credentials, those same
// credentials serve as the agent's auth and no dedicated user is
// created; otherwise a user named after the agent is provisioned.
func (f *Fleet) Provision(ctx context.Context, clusters []config.Cluster, agent string, opts Options) Tally {
	var tally Tally
	for _, cluster := range clusters {
		tally.Total++

		logger := f.logger.With().
			Str("deployment", cluster.Name).
			Str("endpoint", cluster.Endpoint).
			Logger()
		logger.Info().Msg("provisioning cluster")

		dir := f.newDirectory(cluster)
		if !dir.Ping(ctx) {
			logger.Error().Msg("connectivity test failed, skipping cluster")
			continue
		}

		clusterOpts := opts
		if cluster.Username != "" && cluster.Password != "" {
			clusterOpts.SkipUserCreation = true
			logger.Info().Str("user", cluster.Username).Msg("reusing basic auth credentials for agent")
		}

		manager := NewManager(dir, logger, f.managerOpts...)
		res, err := manager.Create(ctx, agent, clusterOpts)
		if err != nil {
			logger.Error().Err(err).Msg("cluster provisioning failed")
			continue
		}

		logger.Info().Stringer("databases", res.Databases).Msg("cluster provisioned")
		tally.Succeeded++
	}

	f.logger.Info().Stringer("clusters", tally).Msg("fleet provisioning completed")
	return tally
}
