package mechanics

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/identifier"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

type stubBehavior struct {
	params   []Parameter
	applyErr error
	run      func(Context) (Result, error)

	mu      sync.Mutex
	applied []config.Document
}

func (s *stubBehavior) DefineParameters() []Parameter { return s.params }

func (s *stubBehavior) Apply(cfg config.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, cfg)
	return nil
}

func (s *stubBehavior) Run(c Context) (Result, error) {
	if s.run == nil {
		return Succeed(), nil
	}
	return s.run(c)
}

func newStub(t *testing.T, kinds ...Kind) (*Base, *stubBehavior) {
	t.Helper()
	beh := &stubBehavior{params: []Parameter{
		{Name: "requiredParam", Type: ParamString, Required: true},
		Parameter{Name: "rate", Type: ParamFloat, Default: 0.5}.InRange(0, 1),
		{Name: "limits.count", Type: ParamInt, Default: 3},
	}}
	b := NewBase(Descriptor{ID: identifier.Of("stub"), Priority: 10, Kinds: kinds}, beh, log.NewNop())
	return b, beh
}

func TestLifecycleTransitions(t *testing.T) {
	b, _ := newStub(t)
	assert.Equal(t, StateUninitialized, b.State())

	err := b.OnEnable()
	assert.ErrorIs(t, err, ErrInvalidLifecycleTransition)
	assert.ErrorIs(t, b.OnDisable(), ErrInvalidLifecycleTransition)

	require.NoError(t, b.OnInitialize())
	assert.ErrorIs(t, b.OnInitialize(), ErrAlreadyInitialized)
	assert.Equal(t, StateInitialized, b.State())

	require.NoError(t, b.OnEnable())
	assert.ErrorIs(t, b.OnEnable(), ErrInvalidLifecycleTransition)
	require.NoError(t, b.OnDisable())
	require.NoError(t, b.OnEnable())
	require.NoError(t, b.OnShutdown())
	assert.Equal(t, StateShutdown, b.State())
	assert.ErrorIs(t, b.OnShutdown(), ErrInvalidLifecycleTransition)
	assert.ErrorIs(t, b.OnEnable(), ErrInvalidLifecycleTransition)
	assert.ErrorIs(t, b.Configure(config.Document{"requiredParam": "v"}), ErrInvalidLifecycleTransition)
}

func TestInitializeDeclaresEnabledAndDefaults(t *testing.T) {
	b, _ := newStub(t)
	require.NoError(t, b.OnInitialize())

	params := b.Parameters()
	require.Len(t, params, 4)
	assert.Equal(t, EnabledParam, params[0].Name)

	cfg := b.Configuration()
	assert.Equal(t, true, cfg[EnabledParam])
	assert.Equal(t, 0.5, cfg["rate"])
	assert.Equal(t, 3, config.As(cfg, "limits.count", 0))
}

func TestInitializeRejectsDuplicateParameters(t *testing.T) {
	beh := &stubBehavior{params: []Parameter{{Name: EnabledParam, Type: ParamBool}}}
	b := NewBase(Descriptor{ID: identifier.Of("dup")}, beh, log.NewNop())
	assert.ErrorIs(t, b.OnInitialize(), ErrInvalidParameter)
	assert.Equal(t, StateUninitialized, b.State())
}

func TestConfigure(t *testing.T) {
	b, beh := newStub(t)
	require.NoError(t, b.OnInitialize())

	require.NoError(t, b.Configure(config.Document{"requiredParam": "v", "rate": 0.25}))
	cfg := b.Configuration()
	assert.Equal(t, "v", cfg["requiredParam"])
	assert.Equal(t, 0.25, cfg["rate"])
	assert.Equal(t, true, cfg[EnabledParam], "defaults are filled in")
	require.Len(t, beh.applied, 1)

	t.Run("invalid leaves configuration intact", func(t *testing.T) {
		err := b.Configure(config.Document{"rate": 2.0, "limits": map[string]any{"count": 1.5}})
		var ice *InvalidConfigurationError
		require.True(t, errors.As(err, &ice))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
		assert.Equal(t, []string{"requiredParam"}, ice.Missing)
		assert.ElementsMatch(t, []string{"rate", "limits.count"}, ice.Invalid)
		assert.Equal(t, cfg, b.Configuration())
		assert.Len(t, beh.applied, 1)
	})

	t.Run("apply failure rolls back", func(t *testing.T) {
		beh.applyErr = errors.New("boom")
		defer func() { beh.applyErr = nil }()
		err := b.Configure(config.Document{"requiredParam": "w"})
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
		assert.Equal(t, "v", b.Configuration()["requiredParam"])
	})

	t.Run("configuration is a copy", func(t *testing.T) {
		got := b.Configuration()
		got["requiredParam"] = "mutated"
		assert.Equal(t, "v", b.Configuration()["requiredParam"])
	})

	t.Run("validate does not store", func(t *testing.T) {
		res := b.ValidateConfiguration(config.Document{"requiredParam": 1})
		assert.False(t, res.Valid)
		assert.True(t, b.ValidateConfiguration(config.Document{"requiredParam": "x"}).Valid)
		assert.Equal(t, "v", b.Configuration()["requiredParam"])
	})
}

func TestExecute(t *testing.T) {
	b, beh := newStub(t, KindBreeding)
	require.NoError(t, b.OnInitialize())
	c := MustContext(KindBreeding)

	t.Run("not enabled is skipped", func(t *testing.T) {
		res := b.Execute(c)
		assert.True(t, res.OK())
		assert.Equal(t, ResultSkipped, res.Type())
		assert.False(t, b.AppliesTo(c))
		assert.Zero(t, b.Metrics().Executions)
	})

	require.NoError(t, b.OnEnable())
	assert.True(t, b.AppliesTo(c))
	assert.False(t, b.AppliesTo(MustContext(KindSpawn)))

	t.Run("error becomes failure", func(t *testing.T) {
		beh.run = func(Context) (Result, error) { return Result{}, errors.New("no soil") }
		res := b.Execute(c)
		assert.False(t, res.OK())
		assert.Equal(t, ResultFailure, res.Type())
		assert.Contains(t, res.Message(), "no soil")
	})

	t.Run("panic becomes failure", func(t *testing.T) {
		beh.run = func(Context) (Result, error) { panic("bad state") }
		res := b.Execute(c)
		assert.False(t, res.OK())
		assert.Contains(t, res.Message(), "bad state")
		assert.Contains(t, res.Message(), ErrExecutionFault.Error())
	})

	t.Run("zero result becomes failure", func(t *testing.T) {
		beh.run = func(Context) (Result, error) { return Result{}, nil }
		res := b.Execute(c)
		assert.False(t, res.OK())
		assert.Equal(t, ResultFailure, res.Type())
		assert.Equal(t, defaultFailureMessage, res.Message())
	})

	beh.run = nil
	assert.True(t, b.Execute(c).OK())

	m := b.Metrics()
	assert.EqualValues(t, 4, m.Executions)
	assert.EqualValues(t, 3, m.Failures)
	assert.GreaterOrEqual(t, m.Max, m.Last)

	b.ResetMetrics()
	assert.Zero(t, b.Metrics().Executions)
}

func TestConcurrentExecuteAndConfigure(t *testing.T) {
	b, _ := newStub(t)
	require.NoError(t, b.OnInitialize())
	require.NoError(t, b.OnEnable())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Execute(MustContext(KindCustom))
			}
		}()
		go func() {
			defer wg.Done()
			_ = b.Configure(config.Document{"requiredParam": "v", "rate": float64(i) / 10})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 400, b.Metrics().Executions)
}
