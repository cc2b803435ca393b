package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/monitoring"
	"github.com/brandbeacon/mentions-pipeline/internal/orchestrator"
	"github.com/brandbeacon/mentions-pipeline/internal/queue"
	"github.com/brandbeacon/mentions-pipeline/internal/source"
	"github.com/brandbeacon/mentions-pipeline/internal/store"
)

// pipelineEnv holds the initialized store, source fleet and orchestrator
// shared by the run/serve/purge commands.
type pipelineEnv struct {
	Store        store.Store
	Registry     *source.Registry
	Writer       *queue.Writer
	Orchestrator *orchestrator.Orchestrator
	Metrics      *monitoring.Metrics
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store, builds the adapter fleet and wires the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, err := source.BuildRegistry(cfg)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "build source registry")
	}

	metrics := monitoring.New()
	w := queue.NewWriter(st, *cfg, zap.L())
	orch := orchestrator.New(reg, w, st, *cfg, zap.L(), metrics)

	return &pipelineEnv{
		Store:        st,
		Registry:     reg,
		Writer:       w,
		Orchestrator: orch,
		Metrics:      metrics,
	}, nil
}
