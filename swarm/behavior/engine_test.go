package behavior

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

func noopHandler(ctx context.Context, ev Event) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func TestEngine_RegisterValidation(t *testing.T) {
	e := NewEngine(config.DefaultBehaviorConfig(), nil)

	err := e.Register(&Behavior{Name: "", Handler: noopHandler})
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	require.NoError(t, e.Register(&Behavior{Name: "x", Trigger: TriggerEmergency, Enabled: true, Handler: noopHandler}))
	err = e.Register(&Behavior{Name: "x", Trigger: TriggerEmergency, Enabled: true, Handler: noopHandler})
	assert.Equal(t, types.ErrPreconditionFailed, types.GetErrorCode(err))
}

func TestEngine_DispatchRunsInDescendingPriority(t *testing.T) {
	e := NewEngine(config.DefaultBehaviorConfig(), nil)
	var order []string
	for name, prio := range map[string]int{"low": 10, "high": 90, "mid": 50} {
		n := name
		require.NoError(t, e.Register(&Behavior{
			Name: n, Trigger: TriggerEmergency, Priority: prio, Enabled: true,
			Handler: func(ctx context.Context, ev Event) (map[string]any, error) {
				order = append(order, n)
				return nil, nil
			},
		}))
	}

	outcomes := e.Dispatch(context.Background(), Event{Type: TriggerEmergency})
	require.Len(t, outcomes, 3)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestEngine_DispatchIsolatesFailures(t *testing.T) {
	e := NewEngine(config.DefaultBehaviorConfig(), nil)
	require.NoError(t, e.Register(&Behavior{
		Name: "panics", Trigger: TriggerEmergency, Priority: 30, Enabled: true,
		Handler: func(ctx context.Context, ev Event) (map[string]any, error) {
			panic("boom")
		},
	}))
	require.NoError(t, e.Register(&Behavior{
		Name: "errors", Trigger: TriggerEmergency, Priority: 20, Enabled: true,
		Handler: func(ctx context.Context, ev Event) (map[string]any, error) {
			return nil, errors.New("handler broke")
		},
	}))
	ran := false
	require.NoError(t, e.Register(&Behavior{
		Name: "survives", Trigger: TriggerEmergency, Priority: 10, Enabled: true,
		Handler: func(ctx context.Context, ev Event) (map[string]any, error) {
			ran = true
			return map[string]any{"ok": true}, nil
		},
	}))

	outcomes := e.Dispatch(context.Background(), Event{Type: TriggerEmergency})
	require.Len(t, outcomes, 3)
	assert.True(t, ran)
	assert.Contains(t, outcomes[0].Error, "panic")
	assert.Equal(t, "handler broke", outcomes[1].Error)
	assert.True(t, outcomes[2].Succeeded())
}

func TestEngine_DisabledBehaviorsDoNotFire(t *testing.T) {
	e := NewEngine(config.DefaultBehaviorConfig(), nil)
	require.NoError(t, e.Register(&Behavior{
		Name: "dormant", Trigger: TriggerEmergency, Enabled: false, Handler: noopHandler,
	}))

	assert.Empty(t, e.Dispatch(context.Background(), Event{Type: TriggerEmergency}))

	require.NoError(t, e.SetEnabled("dormant", true))
	assert.Len(t, e.Dispatch(context.Background(), Event{Type: TriggerEmergency}), 1)

	err := e.SetEnabled("ghost", true)
	assert.Equal(t, types.ErrPreconditionFailed, types.GetErrorCode(err))
}

func TestEngine_TriggerFiltering(t *testing.T) {
	e := NewEngine(config.DefaultBehaviorConfig(), nil)
	require.NoError(t, e.Register(&Behavior{
		Name: "on-failure", Trigger: TriggerAgentFailure, Enabled: true, Handler: noopHandler,
	}))

	assert.Empty(t, e.Dispatch(context.Background(), Event{Type: TriggerEmergency}))
	assert.Len(t, e.Dispatch(context.Background(), Event{Type: TriggerAgentFailure}), 1)
}

func TestEngine_HistoryBounded(t *testing.T) {
	cfg := config.DefaultBehaviorConfig()
	cfg.HistorySize = 5
	e := NewEngine(cfg, nil)
	require.NoError(t, e.Register(&Behavior{
		Name: "chatty", Trigger: TriggerEmergency, Enabled: true, Handler: noopHandler,
	}))

	for i := 0; i < 12; i++ {
		e.Dispatch(context.Background(), Event{Type: TriggerEmergency, AgentID: fmt.Sprintf("a%d", i)})
	}
	history := e.History()
	require.Len(t, history, 5)
	assert.Equal(t, "a7", history[0].Event.AgentID)
	assert.Equal(t, "a11", history[4].Event.AgentID)

	counts := e.ExecCounts()
	assert.Equal(t, 12, counts["chatty"])

	infos := e.Behaviors()
	require.Len(t, infos, 1)
	assert.Equal(t, 12, infos[0].ExecCount)
	assert.False(t, infos[0].LastExecutedAt.IsZero())
}
