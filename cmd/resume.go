package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/enrich/queue"
)

var resumePollWait time.Duration

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Run the resume worker loop against the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resume"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		zap.L().Info("resume worker started",
			zap.String("worker_id", e.workerID),
			zap.String("queue_key", cfg.Redis.QueueKey))

		for {
			job, err := e.redisQueue.Dequeue(ctx, resumePollWait)
			if err != nil {
				if errors.Is(err, queue.ErrEmpty) {
					continue
				}
				if ctx.Err() != nil {
					zap.L().Info("resume worker stopped")
					return nil
				}
				zap.L().Error("queue dequeue failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(5 * time.Second):
				}
				continue
			}

			if err := waitForCooldown(ctx, *job); err != nil {
				return nil
			}
			e.runResumeJob(ctx, *job)
		}
	},
}

// waitForCooldown honors a job's run_after delay. Returns an error
// only when the worker is shutting down.
func waitForCooldown(ctx context.Context, job queue.Job) error {
	delay := job.Delay()
	if delay <= 0 {
		return nil
	}
	zap.L().Info("honoring resume cooldown",
		zap.String("session", job.SessionID),
		zap.Duration("delay", delay))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func init() {
	resumeCmd.Flags().DurationVar(&resumePollWait, "poll-wait", 5*time.Second, "how long each blocking queue poll waits")
	rootCmd.AddCommand(resumeCmd)
}
