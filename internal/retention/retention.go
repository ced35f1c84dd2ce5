package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatcore/pkg/config"
	"chatcore/pkg/logger"
	"chatcore/pkg/store"
)

// defaultCron runs the purge daily at 02:00.
const defaultCron = "0 2 * * *"

// defaultPeriod keeps soft-deleted messages for 30 days before the
// purge removes them permanently.
const defaultPeriod = 30 * 24 * time.Hour

var storedCfg *config.RetentionConfig

// SetConfig stores the retention config so admin triggers and tests can
// invoke retention runs on demand.
func SetConfig(cfg config.RetentionConfig) {
	storedCfg = &cfg
}

// RunImmediate triggers a single purge run using the stored config.
func RunImmediate() (int, error) {
	if storedCfg == nil {
		return 0, fmt.Errorf("no retention config registered")
	}
	return runOnce(context.Background(), *storedCfg)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	SetConfig(cfg)
	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period, "dry_run", cfg.DryRun)

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if n, err := runOnce(ctx, cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			} else {
				logger.Info("retention_run_complete", "purged", n, "dry_run", cfg.DryRun)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// runOnce purges messages whose soft-delete timestamp is older than the
// retention period. Work proceeds in batches with an optional sleep
// between them to keep write amplification bounded.
func runOnce(ctx context.Context, cfg config.RetentionConfig) (int, error) {
	period := defaultPeriod
	if cfg.Period != "" {
		p, err := config.ParsePeriod(cfg.Period)
		if err != nil {
			return 0, fmt.Errorf("invalid retention period %q: %w", cfg.Period, err)
		}
		period = p
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	budget, err := config.ParseBytes(cfg.BatchBudget)
	if err != nil {
		return 0, fmt.Errorf("invalid retention batch budget %q: %w", cfg.BatchBudget, err)
	}
	cutoff := time.Now().UTC().Add(-period).UnixNano()

	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, err := store.PurgeDeletedBefore(cutoff, batch, budget, cfg.DryRun)
		if err != nil {
			return total, err
		}
		total += n
		// the byte budget can stop a pass short of the batch size, so
		// only an empty pass means the backlog is drained
		if n == 0 || cfg.DryRun {
			return total, nil
		}
		if cfg.BatchSleepMs > 0 {
			select {
			case <-time.After(time.Duration(cfg.BatchSleepMs) * time.Millisecond):
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}
	}
}
