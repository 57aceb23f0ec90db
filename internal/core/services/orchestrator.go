package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.Orchestrator = (*Orchestrator)(nil)

// Outcome labels reported to metrics.
const (
	outcomeDone     = "done"
	outcomeRetry    = "retry"
	outcomeFailed   = "failed"
	outcomeReleased = "released"

	// outcomeLost marks a pair whose claim went to another run.
	outcomeLost = "lost"
)

// finishTimeout bounds recording an outcome after the pass was cancelled.
const finishTimeout = 10 * time.Second

// Orchestrator runs every runnable (document, stage) pair through its
// stage executor and records the outcome in the state store.
type Orchestrator struct {
	state     driven.StateStore
	cache     driven.ArtefactCache
	pipeline  *domain.PipelineDefinition
	executors map[string]driven.StageExecutor
	settings  domain.OrchestratorSettings
	metrics   driven.PipelineMetrics
	now       func() time.Time

	// runMu allows one pass at a time.
	runMu sync.Mutex

	mu       sync.RWMutex
	progress domain.Progress
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics records outcomes to m.
func WithMetrics(m driven.PipelineMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator validates that every declared stage has an executor and
// that corpus stages have batch executors.
func NewOrchestrator(
	state driven.StateStore,
	cache driven.ArtefactCache,
	pipeline *domain.PipelineDefinition,
	executors map[string]driven.StageExecutor,
	settings domain.OrchestratorSettings,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("%w: pipeline is required", domain.ErrInvalidPipeline)
	}
	for _, def := range pipeline.Stages() {
		exec, ok := executors[def.Name]
		if !ok || exec == nil {
			return nil, fmt.Errorf("%w: stage %q has no executor", domain.ErrInvalidPipeline, def.Name)
		}
		if def.Mode == domain.ModeCorpus {
			if _, ok := exec.(driven.BatchExecutor); !ok {
				return nil, fmt.Errorf("%w: corpus stage %q needs a batch executor", domain.ErrInvalidPipeline, def.Name)
			}
		}
	}
	for name := range executors {
		if pipeline.Index(name) < 0 {
			return nil, fmt.Errorf("%w: executor registered for %q", domain.ErrUnknownStage, name)
		}
	}

	defaults := domain.DefaultSettings().Orchestrator
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaults.PollInterval
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if settings.StaleAfter <= 0 {
		settings.StaleAfter = defaults.StaleAfter
	}

	o := &Orchestrator{
		state:     state,
		cache:     cache,
		pipeline:  pipeline,
		executors: executors,
		settings:  settings,
		metrics:   nopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// pairResult is what happened to one pair handed to a worker.
type pairResult struct {
	key     domain.StageKey
	outcome string

	// halt is set when the state store failed.
	halt error
}

// workResult is sent back by a worker goroutine.
type workResult struct {
	stage string
	keys  []domain.StageKey
	pairs []pairResult
}

// pass is the scheduling state of one Process call. It is owned by the
// scheduling loop; workers only send on results.
type pass struct {
	opts     domain.ProcessOptions
	owner    string
	summary  *domain.RunSummary
	results  chan workResult
	workers  int
	running  map[string]int
	inFlight map[domain.StageKey]bool
	lost     map[domain.StageKey]bool
	halt     error
}

// Process runs every runnable pair until nothing is runnable.
func (o *Orchestrator) Process(ctx context.Context, opts domain.ProcessOptions) (*domain.RunSummary, error) {
	if opts.Stage != "" && o.pipeline.Index(opts.Stage) < 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, opts.Stage)
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	runID := uuid.NewString()
	summary := &domain.RunSummary{RunID: runID, StartedAt: o.now().UTC()}
	o.setProgress(domain.Progress{RunID: runID, Running: true})
	defer func() {
		o.mu.Lock()
		o.progress.Running = false
		o.progress.InFlight = 0
		o.mu.Unlock()
	}()

	logger.Section("Process")
	logger.Debug("run %s: stage=%q document=%q", runID, opts.Stage, opts.DocumentID)

	p := &pass{
		opts:     opts,
		owner:    runID,
		summary:  summary,
		results:  make(chan workResult, o.capacity()),
		running:  make(map[string]int),
		inFlight: make(map[domain.StageKey]bool),
		lost:     make(map[domain.StageKey]bool),
	}

	recovered, err := o.state.RecoverStale(ctx, o.now().Add(-o.settings.StaleAfter))
	if err != nil {
		p.halt = fmt.Errorf("recover stale pairs: %w", err)
		return o.conclude(ctx, p)
	}
	if recovered > 0 {
		logger.Warn("recovered %d stale running pairs", recovered)
		o.metrics.ObserveRecovered(recovered)
	}
	summary.Recovered = recovered

	reconciled, err := o.state.ReconcileStages(ctx, o.pipeline.Names())
	if err != nil {
		p.halt = fmt.Errorf("reconcile stages: %w", err)
		return o.conclude(ctx, p)
	}
	if reconciled > 0 {
		logger.Warn("reconciled %d stage rows with the pipeline definition", reconciled)
	}

	o.loop(ctx, p)
	return o.conclude(ctx, p)
}

// loop dispatches runnable pairs and collects results until nothing is in
// flight and nothing more can become runnable.
func (o *Orchestrator) loop(ctx context.Context, p *pass) {
	for {
		var wake time.Time
		if p.halt == nil && ctx.Err() == nil {
			wake = o.tick(ctx, p)
		}

		if p.workers == 0 {
			if p.halt != nil || ctx.Err() != nil || wake.IsZero() {
				return
			}
			logger.Debug("waiting %s for retry backoff", wake.Sub(o.now()).Round(time.Millisecond))
			o.sleep(ctx, wake.Sub(o.now()))
			continue
		}

		timer := time.NewTimer(o.settings.PollInterval)
		select {
		case r := <-p.results:
			o.collect(p, r)
		case <-timer.C:
		case <-ctx.Done():
			// Drain: in-flight workers see the cancellation and release their pairs.
			o.collect(p, <-p.results)
		}
		timer.Stop()
	}
}

// tick scans candidates once and dispatches what fits in the worker pools.
// It returns the earliest backoff expiry among eligible pairs.
func (o *Orchestrator) tick(ctx context.Context, p *pass) time.Time {
	candidates, err := o.state.ListCandidates(ctx, p.opts)
	if err != nil {
		if ctx.Err() == nil {
			p.halt = fmt.Errorf("list candidates: %w", err)
		}
		return time.Time{}
	}

	now := o.now()
	var wake time.Time
	corpus := make(map[string][]domain.Candidate)

	for _, c := range candidates {
		key := c.State.Key()
		if p.inFlight[key] || p.lost[key] {
			continue
		}
		def, ok := o.pipeline.Stage(c.State.Stage)
		if !ok || !upstreamSatisfied(def, c) {
			continue
		}
		if !c.State.Runnable(now) {
			if wake.IsZero() || c.State.NextAttemptAt.Before(wake) {
				wake = c.State.NextAttemptAt
			}
			continue
		}
		if def.Mode == domain.ModeCorpus {
			corpus[def.Name] = append(corpus[def.Name], c)
			continue
		}
		if p.running[def.Name] >= def.Workers {
			continue
		}
		o.dispatch(ctx, p, def, []domain.Candidate{c})
	}

	for _, name := range o.pipeline.Names() {
		batch := corpus[name]
		if len(batch) == 0 || p.running[name] > 0 {
			continue
		}
		def, _ := o.pipeline.Stage(name)
		o.dispatch(ctx, p, def, batch)
	}
	return wake
}

// dispatch hands candidates to a worker goroutine. Corpus stages get all
// their candidates in one worker.
func (o *Orchestrator) dispatch(ctx context.Context, p *pass, def domain.StageDefinition, candidates []domain.Candidate) {
	keys := make([]domain.StageKey, len(candidates))
	for i, c := range candidates {
		keys[i] = c.State.Key()
		p.inFlight[keys[i]] = true
	}
	p.workers++
	p.running[def.Name]++
	o.metrics.SetInFlight(def.Name, p.running[def.Name])
	o.updateProgress(p)

	owner := p.owner
	results := p.results
	go func() {
		var pairs []pairResult
		if def.Mode == domain.ModeCorpus {
			pairs = o.runBatch(ctx, owner, def, keys)
		} else {
			pairs = []pairResult{o.runPair(ctx, owner, def, keys[0])}
		}
		results <- workResult{stage: def.Name, keys: keys, pairs: pairs}
	}()
}

// collect folds a worker's results into the pass.
func (o *Orchestrator) collect(p *pass, r workResult) {
	p.workers--
	p.running[r.stage]--
	for _, k := range r.keys {
		delete(p.inFlight, k)
	}

	s := p.summary
	for _, pr := range r.pairs {
		switch pr.outcome {
		case outcomeDone:
			s.Executed++
			s.Succeeded++
		case outcomeRetry:
			s.Executed++
			s.Retried++
		case outcomeFailed:
			s.Executed++
			s.Failed++
		case outcomeLost:
			p.lost[pr.key] = true
		}
		if pr.halt != nil && p.halt == nil {
			logger.Error("halting run %s: %v", p.owner, pr.halt)
			p.halt = pr.halt
		}
	}
	o.metrics.SetInFlight(r.stage, p.running[r.stage])
	o.updateProgress(p)
}

// runPair claims and executes one pair in unit or document mode.
func (o *Orchestrator) runPair(ctx context.Context, owner string, def domain.StageDefinition, key domain.StageKey) pairResult {
	claimed, pr := o.claim(ctx, owner, def, key)
	if pr != nil {
		return *pr
	}

	start := o.now()
	workCtx, stop := o.heartbeat(ctx, owner, []domain.StageKey{key})
	doc, res, err := o.prepare(workCtx, def, key.DocumentID)
	if err == nil && res == nil {
		res = o.execute(workCtx, outputClaim(owner, def, doc), def, doc)
	}
	stop()

	if err != nil {
		return pairResult{key: key, halt: err}
	}
	return o.record(ctx, owner, def, claimed, res, o.now().Sub(start))
}

// runBatch claims every candidate of a corpus stage and invokes the batch
// executor once for the claimed documents.
func (o *Orchestrator) runBatch(ctx context.Context, owner string, def domain.StageDefinition, keys []domain.StageKey) []pairResult {
	results := make([]pairResult, 0, len(keys))
	var claimed []*domain.StageState
	for _, key := range keys {
		st, pr := o.claim(ctx, owner, def, key)
		if pr != nil {
			results = append(results, *pr)
			continue
		}
		claimed = append(claimed, st)
	}
	if len(claimed) == 0 {
		return results
	}

	claimedKeys := make([]domain.StageKey, len(claimed))
	for i, st := range claimed {
		claimedKeys[i] = st.Key()
	}

	start := o.now()
	workCtx, stop := o.heartbeat(ctx, owner, claimedKeys)

	outcomes := make(map[string]domain.StageResult, len(claimed))
	halted := make(map[string]error)
	prepared := make(map[string]*preparedDocument, len(claimed))
	var inputs []domain.StageInput
	for _, st := range claimed {
		doc, res, err := o.prepare(workCtx, def, st.DocumentID)
		switch {
		case err != nil:
			halted[st.DocumentID] = err
		case res != nil:
			outcomes[st.DocumentID] = res
		default:
			prepared[doc.ID] = doc
			inputs = append(inputs, domain.StageInput{DocumentID: doc.ID, Stage: def.Name, Units: doc.inputs})
		}
	}

	if len(inputs) > 0 && workCtx.Err() == nil {
		batch := o.invokeBatch(workCtx, def, inputs)
		for _, in := range inputs {
			res, ok := batch[in.DocumentID]
			if !ok || res == nil {
				res = domain.TransientFailure{Reason: "batch executor returned no result"}
			}
			if succeeded, isOK := res.(domain.Succeeded); isOK {
				res = o.persistAll(workCtx, outputClaim(owner, def, prepared[in.DocumentID]), succeeded.Units)
			}
			outcomes[in.DocumentID] = res
		}
	}
	stop()

	elapsed := o.now().Sub(start)
	for _, st := range claimed {
		if err, ok := halted[st.DocumentID]; ok {
			results = append(results, pairResult{key: st.Key(), halt: err})
			continue
		}
		res, ok := outcomes[st.DocumentID]
		if !ok {
			res = domain.ResultFromError(workCtx.Err())
		}
		results = append(results, o.record(ctx, owner, def, st, res, elapsed))
	}
	return results
}

// claim takes a pending pair for owner. A non-nil pairResult means the pair
// was not claimed.
func (o *Orchestrator) claim(ctx context.Context, owner string, def domain.StageDefinition, key domain.StageKey) (*domain.StageState, *pairResult) {
	st, err := o.state.Claim(ctx, driven.ClaimRequest{
		Key:              key,
		Owner:            owner,
		Now:              o.now(),
		UpstreamStatuses: allowedUpstream(def),
	})
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, domain.ErrClaimLost):
		logger.Debug("claim lost for %s", key)
		o.metrics.ObserveClaimLost(def.Name)
		return nil, &pairResult{key: key, outcome: outcomeLost}
	case ctx.Err() != nil:
		return nil, &pairResult{key: key}
	default:
		return nil, &pairResult{key: key, halt: fmt.Errorf("claim %s: %w", key, err)}
	}
}

// heartbeat refreshes the claims on keys until stop is called. The returned
// context is cancelled once every claim has been lost.
func (o *Orchestrator) heartbeat(ctx context.Context, owner string, keys []domain.StageKey) (context.Context, func()) {
	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.settings.HeartbeatInterval)
		defer ticker.Stop()

		lost := make(map[domain.StageKey]bool)
		for {
			select {
			case <-done:
				return
			case <-workCtx.Done():
				return
			case <-ticker.C:
				for _, k := range keys {
					if lost[k] {
						continue
					}
					err := o.state.Heartbeat(workCtx, k, owner, o.now())
					switch {
					case errors.Is(err, domain.ErrClaimLost):
						logger.Warn("heartbeat: claim on %s was taken over", k)
						lost[k] = true
					case err != nil:
						logger.Warn("heartbeat %s: %v", k, err)
					}
				}
				if len(lost) == len(keys) {
					cancel()
					return
				}
			}
		}
	}()

	return workCtx, func() {
		close(done)
		wg.Wait()
		cancel()
	}
}

// preparedDocument is a document with the input units of the stage at hand.
type preparedDocument struct {
	*domain.Document
	inputs []domain.Unit
}

// outputClaim ties outputs computed from doc to owner's claim and to the
// content hash the inputs were loaded for.
func outputClaim(owner string, def domain.StageDefinition, doc *preparedDocument) driven.OutputClaim {
	return driven.OutputClaim{
		Key:         domain.StageKey{DocumentID: doc.ID, Stage: def.Name},
		Owner:       owner,
		ContentHash: doc.ContentHash,
	}
}

// prepare loads the document and its stage inputs. A non-nil result is a
// stage failure; a non-nil error is a state store failure.
func (o *Orchestrator) prepare(ctx context.Context, def domain.StageDefinition, documentID string) (*preparedDocument, domain.StageResult, error) {
	doc, err := o.state.GetDocument(ctx, documentID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ResultFromError(ctx.Err()), nil
		}
		return nil, nil, fmt.Errorf("get document %s: %w", documentID, err)
	}
	inputs, res := o.loadInputs(ctx, def, doc)
	if res != nil {
		return nil, res, nil
	}
	return &preparedDocument{Document: doc, inputs: inputs}, nil, nil
}

// loadInputs returns the outputs of the nearest done ancestor, or the raw
// source bytes when no ancestor is done.
func (o *Orchestrator) loadInputs(ctx context.Context, def domain.StageDefinition, doc *domain.Document) ([]domain.Unit, domain.StageResult) {
	for _, ancestor := range o.pipeline.Ancestors(def.Name) {
		st := doc.StageState(ancestor)
		if st == nil || st.Status != domain.StatusDone {
			continue
		}
		artefacts, err := o.cache.List(ctx, doc.ID, ancestor)
		if err != nil {
			return nil, cacheFailure("list "+ancestor+" outputs", err)
		}
		units := make([]domain.Unit, 0, len(artefacts))
		for _, a := range artefacts {
			data, err := o.cache.Get(ctx, a.Ref)
			if err != nil {
				return nil, cacheFailure("read "+a.Key.String(), err)
			}
			units = append(units, domain.Unit{Index: a.Key.Unit, Data: data})
		}
		return units, nil
	}

	key := domain.ArtefactKey{DocumentID: doc.ID, Stage: domain.SourceStage}
	art, err := o.cache.Lookup(ctx, key, doc.ContentHash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.TransientFailure{Reason: "source bytes for the current content hash are not cached"}
	}
	if err != nil {
		return nil, cacheFailure("look up source", err)
	}
	data, err := o.cache.Get(ctx, art.Ref)
	if err != nil {
		return nil, cacheFailure("read source", err)
	}
	if domain.HashContent(data) != doc.ContentHash {
		return nil, domain.TransientFailure{Reason: "source bytes do not match the document content hash"}
	}
	return []domain.Unit{{Index: 0, Data: data}}, nil
}

// execute runs a unit or document mode stage over prepared inputs and
// persists its outputs under claim.
func (o *Orchestrator) execute(ctx context.Context, claim driven.OutputClaim, def domain.StageDefinition, doc *preparedDocument) domain.StageResult {
	if def.Mode != domain.ModeUnit {
		res := o.invoke(ctx, def, domain.StageInput{DocumentID: doc.ID, Stage: def.Name, Units: doc.inputs})
		if succeeded, ok := res.(domain.Succeeded); ok {
			return o.persistAll(ctx, claim, succeeded.Units)
		}
		return res
	}

	indexes := make([]int, len(doc.inputs))
	var todo []domain.Unit
	for i, u := range doc.inputs {
		indexes[i] = u.Index
		key := domain.ArtefactKey{DocumentID: doc.ID, Stage: def.Name, Unit: u.Index}
		exists, err := o.cache.Exists(ctx, key)
		if err != nil {
			return cacheFailure("check "+key.String(), err)
		}
		if !exists {
			todo = append(todo, u)
		}
	}
	if skipped := len(doc.inputs) - len(todo); skipped > 0 {
		logger.Stage(doc.ID, def.Name, "resuming: %d of %d units cached", skipped, len(doc.inputs))
	}

	for start := 0; start < len(todo); start += def.BatchSize {
		if err := ctx.Err(); err != nil {
			return domain.ResultFromError(err)
		}
		end := min(start+def.BatchSize, len(todo))
		res := o.invoke(ctx, def, domain.StageInput{DocumentID: doc.ID, Stage: def.Name, Units: todo[start:end]})
		succeeded, ok := res.(domain.Succeeded)
		if !ok {
			return res
		}
		if r := o.persist(ctx, claim, succeeded.Units); r != nil {
			return r
		}
	}

	if _, err := o.cache.Retain(ctx, claim, indexes); err != nil {
		return cacheFailure("retain outputs", err)
	}
	return domain.Succeeded{}
}

// invoke calls the stage executor under the stage deadline. Panics become
// permanent failures and an overrun deadline is transient.
func (o *Orchestrator) invoke(ctx context.Context, def domain.StageDefinition, in domain.StageInput) (res domain.StageResult) {
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("executor for %s panicked on %s: %v", def.Name, in.DocumentID, r)
			res = domain.PermanentFailure{Reason: fmt.Sprintf("executor panic: %v", r)}
		}
	}()

	res = o.executors[def.Name].Run(ctx, in)
	return classifyInvocation(ctx, def, res)
}

// invokeBatch calls a corpus executor under the stage deadline.
func (o *Orchestrator) invokeBatch(ctx context.Context, def domain.StageDefinition, inputs []domain.StageInput) (out map[string]domain.StageResult) {
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("batch executor for %s panicked: %v", def.Name, r)
			out = make(map[string]domain.StageResult, len(inputs))
			for _, in := range inputs {
				out[in.DocumentID] = domain.PermanentFailure{Reason: fmt.Sprintf("executor panic: %v", r)}
			}
		}
	}()

	batch := o.executors[def.Name].(driven.BatchExecutor).RunBatch(ctx, inputs)
	out = make(map[string]domain.StageResult, len(batch))
	for id, res := range batch {
		out[id] = classifyInvocation(ctx, def, res)
	}
	return out
}

// classifyInvocation normalises an executor result.
func classifyInvocation(ctx context.Context, def domain.StageDefinition, res domain.StageResult) domain.StageResult {
	if res == nil {
		return domain.ResultFromError(nil)
	}
	if _, ok := res.(domain.Succeeded); ok {
		return res
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.TransientFailure{Reason: fmt.Sprintf("stage %s exceeded its %s deadline", def.Name, def.Timeout)}
	}
	return res
}

// persistAll stores document-mode outputs and supersedes stale units.
func (o *Orchestrator) persistAll(ctx context.Context, claim driven.OutputClaim, units []domain.Unit) domain.StageResult {
	if r := o.persist(ctx, claim, units); r != nil {
		return r
	}
	indexes := make([]int, len(units))
	for i, u := range units {
		indexes[i] = u.Index
	}
	if _, err := o.cache.Retain(ctx, claim, indexes); err != nil {
		return cacheFailure("retain outputs", err)
	}
	return domain.Succeeded{Units: units}
}

// persist stores output units while claim holds. It returns nil on success.
// Outputs of a lost claim are dropped; Finish then reports the loss.
func (o *Orchestrator) persist(ctx context.Context, claim driven.OutputClaim, units []domain.Unit) domain.StageResult {
	for _, u := range units {
		key := domain.ArtefactKey{DocumentID: claim.Key.DocumentID, Stage: claim.Key.Stage, Unit: u.Index}
		if _, err := o.cache.PutOutput(ctx, claim, key, u.Data); err != nil {
			return cacheFailure("store "+key.String(), err)
		}
	}
	return nil
}

// record maps an executor result to a state transition and finishes the pair.
func (o *Orchestrator) record(
	ctx context.Context,
	owner string,
	def domain.StageDefinition,
	claimed *domain.StageState,
	res domain.StageResult,
	elapsed time.Duration,
) pairResult {
	key := claimed.Key()
	now := o.now()
	pr := pairResult{key: key}

	var outcome driven.StageOutcome
	if ctx.Err() != nil {
		pr.outcome = outcomeReleased
		outcome = driven.StageOutcome{Status: domain.StatusPending, Reason: "cancelled", At: now}
	} else {
		switch r := res.(type) {
		case domain.Succeeded:
			pr.outcome = outcomeDone
			outcome = driven.StageOutcome{Status: domain.StatusDone, CountAttempt: true, At: now}
		case domain.TransientFailure:
			attempts := claimed.Attempts + 1
			if attempts < def.Retry.MaxAttempts {
				pr.outcome = outcomeRetry
				outcome = driven.StageOutcome{
					Status:        domain.StatusPending,
					Reason:        r.Reason,
					CountAttempt:  true,
					NextAttemptAt: now.Add(def.Retry.Backoff(attempts)),
					At:            now,
				}
			} else {
				pr.outcome = outcomeFailed
				outcome = driven.StageOutcome{
					Status:       domain.StatusFailed,
					Reason:       fmt.Sprintf("%s (gave up after %d attempts)", r.Reason, attempts),
					CountAttempt: true,
					At:           now,
				}
			}
		case domain.PermanentFailure:
			pr.outcome = outcomeFailed
			outcome = driven.StageOutcome{Status: domain.StatusFailed, Reason: r.Reason, CountAttempt: true, At: now}
		default:
			pr.outcome = outcomeFailed
			outcome = driven.StageOutcome{Status: domain.StatusFailed, Reason: "executor returned no result", CountAttempt: true, At: now}
		}
	}

	// The outcome is recorded even when the pass was cancelled so a
	// released pair is not left running.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	err := o.state.Finish(fctx, key, owner, outcome)
	switch {
	case errors.Is(err, domain.ErrClaimLost):
		logger.Warn("claim on %s was taken over before %s could be recorded", key, pr.outcome)
		o.metrics.ObserveClaimLost(def.Name)
		return pairResult{key: key, outcome: outcomeLost}
	case err != nil:
		return pairResult{key: key, halt: fmt.Errorf("finish %s: %w", key, err)}
	}

	o.metrics.ObserveOutcome(def.Name, pr.outcome, elapsed)
	switch pr.outcome {
	case outcomeDone:
		logger.Stage(key.DocumentID, key.Stage, "done in %s", elapsed.Round(time.Millisecond))
	case outcomeRetry:
		logger.Stage(key.DocumentID, key.Stage, "attempt %d of %d failed, retrying at %s: %s",
			claimed.Attempts+1, def.Retry.MaxAttempts, outcome.NextAttemptAt.Format(time.TimeOnly), outcome.Reason)
	case outcomeFailed:
		logger.Warn("%s failed: %s", key, outcome.Reason)
	case outcomeReleased:
		logger.Stage(key.DocumentID, key.Stage, "released after cancellation")
	}
	return pr
}

// conclude fills in the final counts and failures.
func (o *Orchestrator) conclude(ctx context.Context, p *pass) (*domain.RunSummary, error) {
	s := p.summary
	qctx := context.WithoutCancel(ctx)

	counts, err := o.state.StageCounts(qctx)
	if err != nil && p.halt == nil {
		p.halt = fmt.Errorf("stage counts: %w", err)
	}
	s.Counts = counts

	failures, err := o.state.ListFailures(qctx, p.opts)
	if err != nil && p.halt == nil {
		p.halt = fmt.Errorf("list failures: %w", err)
	}
	s.Failures = failures
	s.FinishedAt = o.now().UTC()

	logger.Info("run %s finished in %s: %d executed, %d done, %d retried, %d failed",
		s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond), s.Executed, s.Succeeded, s.Retried, s.Failed)

	if p.halt != nil {
		s.Halted = p.halt
		return s, fmt.Errorf("process halted: %w", p.halt)
	}
	if err := ctx.Err(); err != nil {
		return s, err
	}
	return s, nil
}

// Progress returns a snapshot of the current or last pass.
func (o *Orchestrator) Progress() domain.Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

// Requeue moves failed pairs back to pending.
func (o *Orchestrator) Requeue(ctx context.Context, filter domain.RequeueFilter) (int, error) {
	if filter.Stage != "" && o.pipeline.Index(filter.Stage) < 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownStage, filter.Stage)
	}
	n, err := o.state.Requeue(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}
	logger.Info("requeued %d failed pairs", n)
	return n, nil
}

// Skip marks a pending or failed pair as skipped.
func (o *Orchestrator) Skip(ctx context.Context, key domain.StageKey, reason string) error {
	if o.pipeline.Index(key.Stage) < 0 {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStage, key.Stage)
	}
	if err := o.state.Skip(ctx, key, reason); err != nil {
		return fmt.Errorf("skip %s: %w", key, err)
	}
	return nil
}

func (o *Orchestrator) setProgress(p domain.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = p
}

func (o *Orchestrator) updateProgress(p *pass) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.InFlight = len(p.inFlight)
	o.progress.Executed = p.summary.Executed
	o.progress.Succeeded = p.summary.Succeeded
	o.progress.Retried = p.summary.Retried
	o.progress.Failed = p.summary.Failed
}

// capacity is the most workers that can be in flight at once.
func (o *Orchestrator) capacity() int {
	n := 0
	for _, def := range o.pipeline.Stages() {
		n += def.Workers
	}
	return n
}

// sleep waits for d or until ctx is done.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// upstreamSatisfied reports whether the candidate's upstream permits a run.
func upstreamSatisfied(def domain.StageDefinition, c domain.Candidate) bool {
	if def.Upstream == "" {
		return true
	}
	switch c.UpstreamStatus {
	case domain.StatusDone:
		return true
	case domain.StatusFailed, domain.StatusSkipped:
		return def.TolerateUpstreamFailure
	default:
		return false
	}
}

// allowedUpstream lists the upstream statuses a claim may see.
func allowedUpstream(def domain.StageDefinition) []domain.StageStatus {
	if def.Upstream == "" {
		return nil
	}
	if def.TolerateUpstreamFailure {
		return []domain.StageStatus{domain.StatusDone, domain.StatusFailed, domain.StatusSkipped}
	}
	return []domain.StageStatus{domain.StatusDone}
}

// cacheFailure reports an artefact cache error during a stage. Cache
// failures are retryable.
func cacheFailure(op string, err error) domain.StageResult {
	if errors.Is(err, context.Canceled) {
		return domain.PermanentFailure{Reason: op + ": " + err.Error()}
	}
	return domain.TransientFailure{Reason: op + ": " + err.Error()}
}
