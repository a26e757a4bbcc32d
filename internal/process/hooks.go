package process

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/haelod/conductr/internal/service"
)

// RunHooks executes the hooks of one lifecycle phase in order. Blocking
// hooks run to completion; async hooks are fired and their outcome only
// logged. A failing hook aborts the phase when its failure mode says so,
// otherwise the failure is logged and the remaining hooks still run.
func RunHooks(ctx context.Context, svc, phase string, hooks []service.Hook, env []string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	for _, raw := range hooks {
		hk := raw.Normalized()
		if hk.RunMode == service.RunAsync {
			go func(h service.Hook) {
				if err := runHook(ctx, h, env); err != nil {
					log.Warn("async hook failed", "service", svc, "phase", phase, "hook", h.Name, "error", err)
				}
			}(hk)
			continue
		}
		if err := runHook(ctx, hk, env); err != nil {
			if hk.FailureMode == service.FailureFail {
				return fmt.Errorf("%s hook %q: %w", phase, hk.Name, err)
			}
			log.Warn("hook failed", "service", svc, "phase", phase, "hook", hk.Name, "error", err)
		}
	}
	return nil
}

func runHook(ctx context.Context, h service.Hook, env []string) error {
	hctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	name, args := service.SplitCommand(h.Command)
	// #nosec G204
	cmd := exec.CommandContext(hctx, name, args...)
	if h.WorkDir != "" {
		cmd.Dir = h.WorkDir
	}
	if len(env) > 0 || len(h.Env) > 0 {
		merged := make([]string, 0, len(env)+len(h.Env))
		merged = append(merged, env...)
		merged = append(merged, h.Env...)
		cmd.Env = merged
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if hctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s", h.Timeout)
		}
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
