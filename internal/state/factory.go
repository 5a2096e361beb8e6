package state

import (
	"context"
	"time"

	"ec2launch/internal/config"
	"ec2launch/internal/logging"

	"go.uber.org/zap"
)

// NewStore returns the store selected by cfg, or nil when recording is disabled.
// An unreachable etcd falls back to the file store.
func NewStore(cfg config.StateConfig) (Store, error) {
	if cfg.Disabled {
		return nil, nil
	}

	if len(cfg.EtcdEndpoints) > 0 {
		store, err := NewEtcdStore(cfg.EtcdEndpoints)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if _, err = store.client.Get(ctx, launchesPrefix+"_probe"); err == nil {
				logging.Logger().Debug("Recording launches in etcd",
					zap.Strings("endpoints", cfg.EtcdEndpoints))
				return store, nil
			}
			store.Close()
		}
		logging.Logger().Warn("etcd unavailable, falling back to state file",
			zap.Strings("endpoints", cfg.EtcdEndpoints),
			zap.Error(err))
	}

	path, err := config.ExpandHome(cfg.Path)
	if err != nil {
		return nil, err
	}
	return NewFileStore(path), nil
}
