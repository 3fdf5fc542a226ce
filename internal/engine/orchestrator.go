package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/o11y-orchestrator/internal/audit"
	"github.com/xela07ax/o11y-orchestrator/internal/connectors"
	"github.com/xela07ax/o11y-orchestrator/internal/correlation"
)

// Stage: состояние конвейера одного запроса.
type Stage string

const (
	StageInit              Stage = "init"
	StagePersisting        Stage = "persisting"
	StageCallingThirdParty Stage = "calling_third_party"
	StageCallingDownstream Stage = "calling_downstream"
	StageFinalizing        Stage = "finalizing"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// PhaseInsertAndQuery: метка фазы записи в гистограмме длительностей.
const PhaseInsertAndQuery = "insert_and_query"

type ThirdPartyFetcher interface {
	Fetch(ctx context.Context) connectors.Outcome
}

type ComputeCaller interface {
	Compute(ctx context.Context) connectors.Outcome
}

type Enqueuer interface {
	Enqueue(ctx context.Context, message string, id correlation.ID) connectors.Outcome
}

// Switches: выключатели зависимостей (SwitchManager).
type Switches interface {
	IsDisabled(target string) bool
}

type Dependencies struct {
	ThirdParty ThirdPartyFetcher
	Compute    ComputeCaller
	Enqueue    Enqueuer
}

type Options struct {
	Endpoint        string
	CountWindow     time.Duration
	FinalizeTimeout time.Duration
	EnqueueMessage  string
}

// FatalError прерывает весь запрос. Текст ошибки совпадает с исходной причиной.
type FatalError struct {
	Stage Stage
	Err   error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Result: агрегированный ответ конвейера. Не меняется после возврата.
type Result struct {
	CorrelationID correlation.ID
	DurationMs    int64
	RecordID      string
	RecentCount   int64
	ThirdParty    connectors.Outcome
	Compute       connectors.Outcome
	Enqueue       connectors.Outcome

	// Degraded: не удалось завершить запись аудита, но результат отдан.
	Degraded bool
}

type Orchestrator struct {
	store    audit.Store
	deps     Dependencies
	switches Switches
	obs      Observer
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

func NewOrchestrator(store audit.Store, deps Dependencies, switches Switches, obs Observer, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Endpoint == "" {
		opts.Endpoint = "/process"
	}
	if opts.CountWindow <= 0 {
		opts.CountWindow = time.Hour
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 5 * time.Second
	}
	if opts.EnqueueMessage == "" {
		opts.EnqueueMessage = "Process request"
	}
	if obs == nil {
		obs = NewObserver(nil, nil)
	}
	return &Orchestrator{
		store:    store,
		deps:     deps,
		switches: switches,
		obs:      obs,
		logger:   logger.Named("orchestrator"),
		opts:     opts,
		now:      time.Now,
	}
}

// Process прогоняет один запрос через конвейер:
// запись started -> счетчик за окно -> third party -> compute || enqueue -> completed.
// Ошибку возвращает только при отказе хранилища до первого внешнего вызова.
func (o *Orchestrator) Process(ctx context.Context) (*Result, error) {
	start := o.now()

	// Новый корень трассы на каждый запрос: trace id становится correlation id и не переиспользуется,
	// даже если клиент прислал один и тот же traceparent. Входящий контекст сохраняем ссылкой.
	spanOpts := []trace.SpanStartOption{trace.WithNewRoot(), trace.WithSpanKind(trace.SpanKindServer)}
	if parent := trace.SpanContextFromContext(ctx); parent.IsValid() {
		spanOpts = append(spanOpts, trace.WithLinks(trace.Link{SpanContext: parent}))
	}
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.process", spanOpts...)
	defer span.End()

	ctx, cid := correlation.Begin(ctx)
	log := o.logger.With(zap.String("correlation_id", cid.String()))
	span.SetAttributes(
		attribute.String("correlation.id", cid.String()),
		attribute.String("service.operation", "process"),
	)

	status := "success"
	defer func() {
		o.obs.ObserveRequest(o.opts.Endpoint, status, o.now().Sub(start).Seconds())
	}()

	o.obs.IncRequest(o.opts.Endpoint)
	log.Info("starting process request", zap.String("endpoint", o.opts.Endpoint))

	o.enter(span, log, StagePersisting)
	recordID, recent, err := o.persist(ctx, cid, log)
	if err != nil {
		status = "failed"
		o.enter(span, log, StageFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("error", true))
		log.Error("process request failed", zap.Error(err))
		return nil, err
	}

	res := &Result{
		CorrelationID: cid,
		RecordID:      recordID,
		RecentCount:   recent,
	}

	o.enter(span, log, StageCallingThirdParty)
	res.ThirdParty = o.call(ctx, log, connectors.TargetThirdParty, o.deps.ThirdParty.Fetch)

	// compute и enqueue независимы друг от друга: параллельно
	o.enter(span, log, StageCallingDownstream)
	var g errgroup.Group
	g.Go(func() error {
		res.Compute = o.call(ctx, log, connectors.TargetCompute, o.deps.Compute.Compute)
		return nil
	})
	g.Go(func() error {
		res.Enqueue = o.call(ctx, log, connectors.TargetEnqueue, func(ctx context.Context) connectors.Outcome {
			return o.deps.Enqueue.Enqueue(ctx, o.opts.EnqueueMessage, cid)
		})
		return nil
	})
	_ = g.Wait()

	o.enter(span, log, StageFinalizing)
	res.DurationMs = o.now().Sub(start).Milliseconds()
	if err := o.finalize(ctx, recordID, res.DurationMs); err != nil {
		res.Degraded = true
		status = "degraded"
		span.SetAttributes(attribute.Bool("audit.degraded", true))
		log.Error("failed to complete audit record, returning result anyway",
			zap.String("record_id", recordID), zap.Error(err))
	}

	o.enter(span, log, StageDone)
	span.SetAttributes(
		attribute.String("response.status", "success"),
		attribute.Int64("request.duration_ms", res.DurationMs),
		attribute.String("database.record_id", recordID),
	)
	log.Info("process request completed",
		zap.Int64("duration_ms", res.DurationMs),
		zap.String("record_id", recordID),
		zap.Bool("degraded", res.Degraded))
	return res, nil
}

// persist: запись started и чтение счетчика. Любой отказ фатален.
func (o *Orchestrator) persist(ctx context.Context, cid correlation.ID, log *zap.Logger) (string, int64, error) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.database_query")
	defer span.End()

	start := o.now()
	recordID, err := o.store.CreateStarted(ctx, cid.String(), o.opts.Endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create record failed")
		return "", 0, &FatalError{Stage: StagePersisting, Err: err}
	}

	// Отказ чтения счетчика тоже фатален, хотя запись уже создана и останется в started.
	recent, err := o.store.CountRecent(ctx, o.opts.CountWindow)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count recent failed")
		return "", 0, &FatalError{Stage: StagePersisting, Err: err}
	}

	d := o.now().Sub(start)
	o.obs.ObservePhaseDuration(PhaseInsertAndQuery, d.Seconds())
	span.SetAttributes(
		attribute.String("database.record_id", recordID),
		attribute.Int64("database.recent_count", recent),
	)
	log.Info("database query completed",
		zap.Duration("duration", d),
		zap.String("record_id", recordID),
		zap.Int64("recent_requests", recent))
	return recordID, recent, nil
}

// call оборачивает один best-effort вызов в span, который закрывается на любом пути выхода.
func (o *Orchestrator) call(ctx context.Context, log *zap.Logger, target string, fn func(context.Context) connectors.Outcome) (out connectors.Outcome) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.call_"+target,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("dependency.target", target)),
	)
	defer func() {
		span.SetAttributes(attribute.String("dependency.outcome", out.Status()))
		if !out.Available {
			span.SetStatus(codes.Error, out.Reason)
		}
		span.End()
	}()

	if o.switches != nil && o.switches.IsDisabled(target) {
		out = connectors.Unavailable(target, connectors.ErrDisabled.Error())
		o.obs.ObserveOutcome(target, "disabled")
		log.Warn("dependency disabled by operator, call skipped", zap.String("target", target))
		return out
	}

	o.obs.IncDependencyCall(target)
	out = fn(ctx)
	o.obs.ObserveOutcome(target, out.Status())

	if out.Available {
		log.Info("dependency call succeeded", zap.String("target", target))
	} else {
		log.Warn("dependency call failed", zap.String("target", target), zap.String("reason", out.Reason))
	}
	return out
}

// finalize переводит запись в completed. Контекст отвязан от отмены входящего запроса:
// запись уже создана, и ее надо закрыть, но не дольше FinalizeTimeout.
func (o *Orchestrator) finalize(ctx context.Context, recordID string, durationMs int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FinalizeTimeout)
	defer cancel()

	ctx, span := o.obs.StartSpan(ctx, "orchestrator.update_database")
	defer span.End()

	if err := o.store.CompleteRecord(ctx, recordID, durationMs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete record failed")
		return err
	}
	return nil
}

func (o *Orchestrator) enter(span trace.Span, log *zap.Logger, stage Stage) {
	span.AddEvent("stage", trace.WithAttributes(attribute.String("pipeline.stage", string(stage))))
	log.Debug("pipeline stage", zap.String("stage", string(stage)))
}
