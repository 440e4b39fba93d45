package main

import (
	"context"
	"log/slog"
	"os"
)

type policyReloader interface {
	Reload() error
}

// watchPolicyReloads re-reads the authorization policy each time a signal
// arrives on hup. A failed reload keeps the previous policy in force.
func watchPolicyReloads(ctx context.Context, hup <-chan os.Signal, r policyReloader, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := r.Reload(); err != nil {
				log.Error("authorization policy reload failed", "error", err)
				continue
			}
			log.Info("authorization policy reloaded")
		}
	}
}
