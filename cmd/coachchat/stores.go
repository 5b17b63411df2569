package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/user/coachchat/internal/config"
	"github.com/user/coachchat/internal/state"
	"github.com/user/coachchat/internal/types"
)

// openThreadStore opens the thread index selected by server.thread_index.
// The returned func releases it.
func openThreadStore(cfg *config.Config) (types.ThreadStore, func(), error) {
	switch cfg.Server.ThreadIndex {
	case "", "json":
		return state.NewThreadStore(cfg.DataDir), func() {}, nil
	case "bolt":
		store, err := state.OpenBoltThreadStore(cfg.DataDir, time.Second)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("close thread index", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown server.thread_index %q (want json or bolt)", cfg.Server.ThreadIndex)
	}
}
