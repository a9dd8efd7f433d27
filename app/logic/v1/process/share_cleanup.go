package process

import (
	"context"
	"log/slog"
	"time"

	"github.com/quizlab-ai/quizlab/pkg/register"
	"github.com/quizlab-ai/quizlab/pkg/safe"
)

// 过期一段时间后的链接行才物理删除，避免刚过期的链接在审计查询中消失
const expiredLinkGracePeriod = 24 * time.Hour

func init() {
	register.RegisterFunc[*Process](ProcessKey{}, func(p *Process) {
		// 每小时清理一次过期链接与超保留期的审计记录
		p.Cron().AddFunc("0 * * * *", func() {
			safe.Run(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				defer cancel()
				RunShareCleanup(ctx, p)
			})
		})
	})
}

func RunShareCleanup(ctx context.Context, p *Process) {
	now := time.Now()

	deleted, err := p.Core().Store().ShareLinkStore().DeleteExpired(ctx, now.Add(-expiredLinkGracePeriod).Unix())
	if err != nil {
		slog.Error("failed to cleanup expired share links", slog.Any("error", err))
	} else if deleted > 0 {
		slog.Info("expired share links cleaned", slog.Int64("deleted", deleted))
		if m := p.Core().Metrics(); m != nil {
			m.ShareCleanupAdd("link", float64(deleted))
		}
	}

	retentionDays := p.Core().Cfg().Site.Share.UsageRetentionDays
	if retentionDays <= 0 {
		return
	}

	deleted, err = p.Core().Store().ShareUsageStore().DeleteBefore(ctx, now.AddDate(0, 0, -retentionDays).Unix())
	if err != nil {
		slog.Error("failed to cleanup share usage records", slog.Any("error", err))
	} else if deleted > 0 {
		slog.Info("share usage records cleaned", slog.Int64("deleted", deleted), slog.Int("retention_days", retentionDays))
		if m := p.Core().Metrics(); m != nil {
			m.ShareCleanupAdd("usage", float64(deleted))
		}
	}
}
