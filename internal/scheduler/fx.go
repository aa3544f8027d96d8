package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, sched *Scheduler) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			if err := sched.StartCron(ctx); err != nil {
				cancel()
				return err
			}
			if sched.config().GenerateOnStartup && sched.isJobEnabled(JobGenerateDeliveries) {
				go func() {
					if err := sched.runGenerate(ctx); err != nil {
						sched.log.Warn("startup generation failed", zap.Error(err))
					}
				}()
			}
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel != nil {
				cancel()
			}
			sched.StopCron(stopCtx)
			return nil
		},
	})
}
