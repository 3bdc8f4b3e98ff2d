package history

import (
	"context"
	"time"

	"camrate-server-go/internal/domain/eventbus"
	"camrate-server-go/internal/platform/logging"
)

// Recorder writes round summaries from the bus into the repository and
// prunes rows older than the retention window.
type Recorder struct {
	repo      Repository
	logger    *logging.Logger
	retention time.Duration
	interval  time.Duration
}

func NewRecorder(repo Repository, logger *logging.Logger, retention time.Duration) *Recorder {
	return &Recorder{repo: repo, logger: logger, retention: retention, interval: time.Hour}
}

// Attach subscribes the recorder to round events.
func (r *Recorder) Attach(sub eventbus.Subscriber) error {
	return eventbus.OnRoundCompleted(sub, r.handle)
}

func (r *Recorder) handle(summary eventbus.RoundSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.Record(ctx, summary); err != nil {
		r.logger.WarnTag("历史", "记录轮次失败: session=%s outcome=%s err=%v", summary.SessionID, summary.Outcome, err)
	}
}

// Run prunes on start and then every interval until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	if r.retention <= 0 {
		<-ctx.Done()
		return nil
	}

	r.prune(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.DeleteBefore(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.WarnTag("历史", "清理旧记录失败: %v", err)
		return
	}
	if n > 0 {
		r.logger.InfoTag("历史", "已清理 %d 条过期轮次记录", n)
	}
}
