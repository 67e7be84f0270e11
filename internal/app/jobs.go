package app

import (
	"os"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	if loc == nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	_, err := a.sched.AddFunc("@every 30s", func() {
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
	go a.SchedProcessMonitorTask()
}

// SchedProcessMonitorTask samples process and host usage and logs the gateway state
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	sample := a.RuntimeStats()
	sample.SampledAt = time.Now()
	sample.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	sample.Goroutines = runtime.NumGoroutine()

	if cpuuse, err := cpu.Percent(0, false); err == nil && len(cpuuse) > 0 {
		sample.SystemCPU = cpuuse[0]
	}
	if meminfo, err := mem.VirtualMemory(); err == nil {
		sample.SystemMemMB = meminfo.Used / 1024 / 1024
	}

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err == nil {
		if cpuuse, err := p.CPUPercent(); err == nil {
			sample.ProcessCPU = cpuuse
		}
		if meminfo, err := p.MemoryInfo(); err == nil {
			sample.ProcessRSSMB = meminfo.RSS / 1024 / 1024
		}
	}

	a.statsMu.Lock()
	a.stats = sample
	state, queue := a.state, a.queue
	a.statsMu.Unlock()

	fields := []zap.Field{
		zap.String("namespace", "monitor"),
		zap.Float64("cpu", sample.ProcessCPU),
		zap.Uint64("rss_mb", sample.ProcessRSSMB),
		zap.Int("goroutines", sample.Goroutines),
	}
	if state != nil {
		fields = append(fields, zap.String("wa_state", state.Snapshot().Status.String()))
	}
	if queue != nil {
		fields = append(fields, zap.Int("queue_depth", queue.Stats().Depth))
	}
	zap.L().Info("monitor: gateway status", fields...)
}
