package manager

import (
	"context"

	"llamagen/internal/completion"
	"llamagen/internal/runtime"
	"llamagen/internal/session"
	"llamagen/pkg/types"
)

// acquire ensures the instance and takes a queue slot on it.
func (m *Manager) acquire(ctx context.Context, modelID string) (*Instance, func(), error) {
	inst, err := m.ensure(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}
	release, err := m.admit(ctx, inst)
	if err != nil {
		return nil, nil, err
	}
	return inst, release, nil
}

func (m *Manager) record(modelID string, res completion.Result) {
	m.generationsTotal.Add(1)
	outcome := res.Phase.String()
	if res.Err != nil {
		outcome = string(res.Err.Kind)
	}
	generationsCounter.WithLabelValues(modelID, outcome).Inc()
	tokensTotal.WithLabelValues(modelID, "prompt").Add(float64(res.PromptTokens))
	tokensTotal.WithLabelValues(modelID, "predicted").Add(float64(res.PredictedTokens))
}

// Complete runs a prompt completion on modelID. The error reports
// admission and load failures; generation failures are in the Result.
func (m *Manager) Complete(ctx context.Context, modelID string, req completion.Request) (completion.Result, error) {
	inst, release, err := m.acquire(ctx, modelID)
	if err != nil {
		return completion.Result{}, err
	}
	defer release()
	res := inst.sess.Complete(ctx, req)
	m.record(inst.ID, res)
	return res, nil
}

// Stream starts a streaming completion. The queue slot is held until the
// stream ends.
func (m *Manager) Stream(ctx context.Context, modelID string, req completion.Request) (*completion.Stream, error) {
	inst, release, err := m.acquire(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return m.track(inst, release, inst.sess.Stream(ctx, req)), nil
}

// Chat runs a chat completion on the model named by the request.
func (m *Manager) Chat(ctx context.Context, req types.ChatRequest) (completion.Result, error) {
	inst, release, err := m.acquire(ctx, req.Model)
	if err != nil {
		return completion.Result{}, err
	}
	defer release()
	res := inst.sess.Chat(ctx, req)
	m.record(inst.ID, res)
	return res, nil
}

// ChatStream is the streaming form of Chat.
func (m *Manager) ChatStream(ctx context.Context, req types.ChatRequest) (*completion.Stream, error) {
	inst, release, err := m.acquire(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	return m.track(inst, release, inst.sess.ChatStream(ctx, req)), nil
}

func (m *Manager) track(inst *Instance, release func(), st *completion.Stream) *completion.Stream {
	go func() {
		<-st.Done()
		release()
		m.record(inst.ID, st.Result())
	}()
	return st
}

// Submit starts a background completion and returns its job.
func (m *Manager) Submit(ctx context.Context, modelID string, req completion.Request) (*session.Job, error) {
	inst, release, err := m.acquire(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return m.trackJob(inst, release, inst.sess.Submit(req)), nil
}

// SubmitChat starts a background chat completion.
func (m *Manager) SubmitChat(ctx context.Context, req types.ChatRequest) (*session.Job, error) {
	inst, release, err := m.acquire(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	return m.trackJob(inst, release, inst.sess.SubmitChat(req)), nil
}

func (m *Manager) trackJob(inst *Instance, release func(), j *session.Job) *session.Job {
	go func() {
		<-j.Done()
		release()
		if res, err := j.Wait(context.Background()); err == nil {
			m.record(inst.ID, res)
		}
	}()
	return j
}

// Job finds a submitted job on any loaded session.
func (m *Manager) Job(id string) (*session.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inst := range m.instances {
		if inst.sess == nil {
			continue
		}
		if j, ok := inst.sess.Job(id); ok {
			return j, true
		}
	}
	return nil, false
}

// Tokenize converts text with the vocabulary of modelID.
func (m *Manager) Tokenize(ctx context.Context, modelID, text string, addSpecial bool) ([]runtime.Token, error) {
	inst, err := m.ensure(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return inst.sess.Tokenize(text, addSpecial)
}

// Detokenize converts tokens with the vocabulary of modelID.
func (m *Manager) Detokenize(ctx context.Context, modelID string, tokens []runtime.Token) (string, error) {
	inst, err := m.ensure(ctx, modelID)
	if err != nil {
		return "", err
	}
	return inst.sess.Detokenize(tokens)
}

// Embed returns the embedding of text under modelID.
func (m *Manager) Embed(ctx context.Context, modelID, text string) ([]float32, error) {
	inst, release, err := m.acquire(ctx, modelID)
	if err != nil {
		return nil, err
	}
	defer release()
	return inst.sess.Embed(ctx, text)
}

// Describe returns runtime details for a loaded model and registry details
// otherwise. It never triggers a load.
func (m *Manager) Describe(modelID string) (types.ModelInfo, error) {
	modelID, err := m.resolve(modelID)
	if err != nil {
		return types.ModelInfo{}, err
	}
	mdl, ok := m.getModelByID(modelID)
	if !ok {
		return types.ModelInfo{}, ErrModelNotFound(modelID)
	}
	m.mu.RLock()
	inst := m.instances[modelID]
	m.mu.RUnlock()
	if inst != nil && inst.sess != nil && inst.State == StateReady {
		info := inst.sess.Info()
		info.Model = mdl
		return info, nil
	}
	return types.ModelInfo{Model: mdl}, nil
}
