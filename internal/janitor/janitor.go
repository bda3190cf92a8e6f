package janitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"convod/pkg/config"
	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/notify"
	"convod/pkg/store"
)

// Start starts the purge scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.JanitorConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("janitor_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid janitor cron expression: %s", cfg.Cron)
	}

	logger.Info("janitor_enabled", "cron", cronExpr, "period", time.Duration(cfg.Period))
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.JanitorConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := RunOnce(cfg); err != nil {
				logger.Error("janitor_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("janitor_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges read notifications and dead letters older than the
// retention period. Dedup index entries pointing at purged rows go with
// them so future events insert fresh rows instead of merging into ghosts.
func RunOnce(cfg config.JanitorConfig) error {
	period := time.Duration(cfg.Period)
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-period).UnixNano()
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}

	purged, err := purgeNotifications(cutoff, batch)
	if err != nil {
		return err
	}
	dead, err := purgeDeadLetters(cutoff, batch)
	if err != nil {
		return err
	}
	logger.Info("janitor_run_complete", "notifications_purged", purged, "dead_letters_purged", dead)
	return nil
}

func purgeNotifications(cutoff int64, batch int) (int, error) {
	hits, err := store.FindDocs(store.NSNotification, store.Query{
		Where: []store.Cond{
			{Field: "read", Op: store.OpEq, Value: true},
			{Field: "updated_ts", Op: store.OpLt, Value: cutoff},
		},
		Limit: batch,
	})
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, b := range hits {
		var n models.Notification
		if err := json.Unmarshal(b, &n); err != nil {
			continue
		}
		if !n.Type.DedupExempt() {
			if key := notify.DedupIndexKey(&n); key != "" {
				if id, err := store.GetIndex(key); err == nil && id == n.ID {
					_ = store.DeleteIndex(key)
				}
			}
		}
		if err := store.DeleteDoc(store.NSNotification, n.ID); err != nil {
			logger.Warn("janitor_notification_delete_failed", "id", n.ID, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}

func purgeDeadLetters(cutoff int64, batch int) (int, error) {
	hits, err := store.FindDocs(store.NSDeadLetter, store.Query{
		Where: []store.Cond{
			{Field: "created_ts", Op: store.OpLt, Value: cutoff},
		},
		Limit: batch,
	})
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, b := range hits {
		var dl struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &dl); err != nil || dl.ID == "" {
			continue
		}
		if err := store.DeleteDoc(store.NSDeadLetter, dl.ID); err != nil {
			logger.Warn("janitor_deadletter_delete_failed", "id", dl.ID, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}
