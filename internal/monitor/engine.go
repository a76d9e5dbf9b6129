package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/config"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/provider"
)

// ProviderResolver yields the provider to read from, if any. Satisfied by
// selector.Selector.
type ProviderResolver interface {
	Resolve(ctx context.Context) (provider.HealthDataProvider, bool)
}

// Callback receives a trigger event on the goroutine that evaluated it.
// Callbacks must not block; hand heavy work off to another goroutine.
type Callback func(event health.TriggerEvent)

// ArchiveSink persists raw observations read during evaluation. Archiving is
// best-effort: failures are logged and never affect trigger evaluation.
type ArchiveSink interface {
	InsertHeartRateSamples(ctx context.Context, samples []health.HeartRateSample) error
	InsertSleepSession(ctx context.Context, session health.SleepSession) error
	InsertActivitySample(ctx context.Context, sample health.ActivitySample) error
}

// Engine polls the active provider on per-trigger cadences and fires trigger
// events to subscribers, at most once per trigger kind per calendar day.
//
// A trigger kind is only polled while the engine is running AND at least one
// subscriber is registered for it: the first subscriber arms the kind's
// polling loop, the last unsubscribe disarms it.
type Engine struct {
	cfg      config.MonitorConfig
	selector ProviderResolver
	dedupe   *DedupeStore
	archive  ArchiveSink // optional
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	nextSubID   int
	subscribers map[health.TriggerType]map[int]Callback
	loopCancels map[health.TriggerType]context.CancelFunc
}

func NewEngine(cfg config.MonitorConfig, sel ProviderResolver, dedupe *DedupeStore, archive ArchiveSink, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		selector:    sel,
		dedupe:      dedupe,
		archive:     archive,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[health.TriggerType]map[int]Callback),
		loopCancels: make(map[health.TriggerType]context.CancelFunc),
	}
}

// Start arms polling loops for every trigger kind that has subscribers.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for trigger := range e.subscribers {
		e.armLocked(trigger)
	}
	e.logger.Info("monitoring engine started")
}

// Stop disarms all polling loops and waits for in-flight ticks to finish.
// Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.loopCancels = make(map[health.TriggerType]context.CancelFunc)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("monitoring engine stopped")
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Subscribe registers a callback for a trigger kind and returns an
// unsubscribe function. Unsubscribing twice is harmless.
func (e *Engine) Subscribe(trigger health.TriggerType, cb Callback) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSubID++
	id := e.nextSubID
	if e.subscribers[trigger] == nil {
		e.subscribers[trigger] = make(map[int]Callback)
	}
	e.subscribers[trigger][id] = cb
	if len(e.subscribers[trigger]) == 1 {
		e.armLocked(trigger)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subscribers[trigger], id)
			if len(e.subscribers[trigger]) == 0 {
				delete(e.subscribers, trigger)
				e.disarmLocked(trigger)
			}
		})
	}
}

// armLocked starts the polling loop for a trigger kind. Caller holds e.mu.
func (e *Engine) armLocked(trigger health.TriggerType) {
	if !e.running {
		return
	}
	if _, armed := e.loopCancels[trigger]; armed {
		return
	}
	interval := e.intervalFor(trigger)
	loopCtx, loopCancel := context.WithCancel(e.ctx)
	e.loopCancels[trigger] = loopCancel

	e.wg.Add(1)
	go e.runLoop(loopCtx, trigger, interval)
	e.logger.Info("trigger polling armed",
		zap.String("trigger", string(trigger)),
		zap.Duration("interval", interval))
}

// disarmLocked stops the polling loop for a trigger kind. Caller holds e.mu.
func (e *Engine) disarmLocked(trigger health.TriggerType) {
	if cancel, armed := e.loopCancels[trigger]; armed {
		cancel()
		delete(e.loopCancels, trigger)
		e.logger.Info("trigger polling disarmed", zap.String("trigger", string(trigger)))
	}
}

func (e *Engine) intervalFor(trigger health.TriggerType) time.Duration {
	switch trigger {
	case health.TriggerHeartRateSpike:
		return e.cfg.HeartRatePollInterval.Std()
	case health.TriggerHighStress:
		return e.cfg.StressPollInterval.Std()
	case health.TriggerLowActivity:
		return e.cfg.ActivityPollInterval.Std()
	case health.TriggerSleepEnd:
		return e.cfg.SleepPollInterval.Std()
	default:
		return time.Minute
	}
}

func (e *Engine) runLoop(ctx context.Context, trigger health.TriggerType, interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, trigger)
		}
	}
}

// tick runs one evaluation for a trigger kind. Evaluation failures are
// logged and swallowed so one bad read never kills a polling loop.
func (e *Engine) tick(ctx context.Context, trigger health.TriggerType) {
	var err error
	switch trigger {
	case health.TriggerHeartRateSpike:
		err = e.evaluateHeartRate(ctx)
	case health.TriggerHighStress:
		err = e.evaluateStress(ctx)
	case health.TriggerLowActivity:
		err = e.evaluateActivity(ctx)
	case health.TriggerSleepEnd:
		err = e.evaluateSleepEnd(ctx)
	}
	if err != nil {
		e.logger.Warn("trigger evaluation failed",
			zap.String("trigger", string(trigger)),
			zap.Error(err))
	}
}

// evaluateHeartRate reads the trailing window of heart-rate samples and
// fires when any sample meets the spike threshold.
func (e *Engine) evaluateHeartRate(ctx context.Context) error {
	active, ok := e.selector.Resolve(ctx)
	if !ok {
		return nil
	}

	end := e.now()
	samples := active.GetHeartRate(ctx, end.Add(-e.cfg.HeartRatePollInterval.Std()), end)
	if len(samples) == 0 {
		return nil
	}
	e.archiveHeartRate(ctx, samples)

	peak := samples[0]
	for _, s := range samples[1:] {
		if s.Value > peak.Value {
			peak = s
		}
	}
	if peak.Value < e.cfg.HeartRateSpikeBPM {
		return nil
	}

	return e.fire(ctx, health.TriggerEvent{
		Type:               health.TriggerHeartRateSpike,
		Message:            fmt.Sprintf("Heart rate reached %.0f bpm", peak.Value),
		SuggestedActionKey: "breathing_exercise",
	})
}

// evaluateStress reads the trailing window of stress levels and fires when
// the most recent level meets the high-stress threshold.
func (e *Engine) evaluateStress(ctx context.Context) error {
	active, ok := e.selector.Resolve(ctx)
	if !ok {
		return nil
	}

	end := e.now()
	levels := active.GetStressLevel(ctx, end.Add(-e.cfg.StressPollInterval.Std()), end)
	if len(levels) == 0 {
		return nil
	}

	latest := levels[len(levels)-1]
	if latest.Value < e.cfg.HighStressLevel {
		return nil
	}

	return e.fire(ctx, health.TriggerEvent{
		Type:               health.TriggerHighStress,
		Message:            fmt.Sprintf("Stress level reached %.0f", latest.Value),
		SuggestedActionKey: "breathing_exercise",
	})
}

// evaluateActivity fires when the local hour is inside the afternoon check
// window and the step count so far today sits below the floor.
func (e *Engine) evaluateActivity(ctx context.Context) error {
	now := e.now().Local()
	if now.Hour() < e.cfg.ActivityWindowStartHour || now.Hour() >= e.cfg.ActivityWindowEndHour {
		return nil
	}

	active, ok := e.selector.Resolve(ctx)
	if !ok {
		return nil
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	samples := active.GetActivity(ctx, startOfDay, now)
	if len(samples) == 0 {
		return nil
	}
	e.archiveActivity(ctx, samples)

	steps := 0
	for _, s := range samples {
		if s.Steps != nil {
			steps += *s.Steps
		}
	}
	if steps >= e.cfg.LowActivityStepGoal {
		return nil
	}

	return e.fire(ctx, health.TriggerEvent{
		Type:               health.TriggerLowActivity,
		Message:            fmt.Sprintf("Only %d steps so far today", steps),
		SuggestedActionKey: "go_for_walk",
	})
}

// evaluateSleepEnd fires when the most recent sleep session ended within the
// freshness window, i.e. the user just woke up.
func (e *Engine) evaluateSleepEnd(ctx context.Context) error {
	active, ok := e.selector.Resolve(ctx)
	if !ok {
		return nil
	}

	now := e.now()
	sessions := active.GetSleepSessions(ctx, now.Add(-e.cfg.SleepEndLookback.Std()), now)
	if len(sessions) == 0 {
		return nil
	}

	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.EndTime.After(latest.EndTime) {
			latest = s
		}
	}
	if latest.EndTime.After(now) || now.Sub(latest.EndTime) > e.cfg.SleepEndFreshness.Std() {
		return nil
	}
	e.archiveSleep(ctx, latest)

	return e.fire(ctx, health.TriggerEvent{
		Type:               health.TriggerSleepEnd,
		Message:            fmt.Sprintf("Sleep session ended, %d minutes slept", latest.DurationMinutes),
		SuggestedActionKey: "morning_check_in",
	})
}

// fire delivers an event to the kind's subscribers unless the kind already
// fired today. The last-fired record is stamped only after delivery.
func (e *Engine) fire(ctx context.Context, event health.TriggerEvent) error {
	fired, err := e.dedupe.FiredToday(ctx, event.Type)
	if err != nil {
		return err
	}
	if fired {
		return nil
	}

	event.ID = uuid.NewString()
	event.FiredAt = e.now()

	e.mu.Lock()
	callbacks := make([]Callback, 0, len(e.subscribers[event.Type]))
	for _, cb := range e.subscribers[event.Type] {
		callbacks = append(callbacks, cb)
	}
	e.mu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
	e.logger.Info("trigger fired",
		zap.String("trigger", string(event.Type)),
		zap.String("event_id", event.ID),
		zap.String("message", event.Message))

	return e.dedupe.MarkFired(ctx, event.Type)
}

func (e *Engine) archiveHeartRate(ctx context.Context, samples []health.HeartRateSample) {
	if e.archive == nil {
		return
	}
	if err := e.archive.InsertHeartRateSamples(ctx, samples); err != nil {
		e.logger.Warn("failed to archive heart rate samples", zap.Error(err))
	}
}

func (e *Engine) archiveActivity(ctx context.Context, samples []health.ActivitySample) {
	if e.archive == nil {
		return
	}
	for _, s := range samples {
		if err := e.archive.InsertActivitySample(ctx, s); err != nil {
			e.logger.Warn("failed to archive activity sample", zap.Error(err))
			return
		}
	}
}

func (e *Engine) archiveSleep(ctx context.Context, session health.SleepSession) {
	if e.archive == nil {
		return
	}
	if err := e.archive.InsertSleepSession(ctx, session); err != nil {
		e.logger.Warn("failed to archive sleep session", zap.Error(err))
	}
}
