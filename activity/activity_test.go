package activity

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityFunc(t *testing.T) {
	act := ActivityFunc(func(ctx context.Context, input json.RawMessage) (any, error) {
		return "result", nil
	})

	result, err := act.Execute(context.Background(), json.RawMessage(`"input"`))
	require.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestTyped(t *testing.T) {
	type in struct {
		IDs []int `json:"ids"`
	}
	act := Typed(func(ctx context.Context, v in) (int, error) {
		return len(v.IDs), nil
	})

	n, err := act.Execute(context.Background(), json.RawMessage(`{"ids":[1,2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = act.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = act.Execute(context.Background(), json.RawMessage(`{"ids":"nope"}`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	act := ActivityFunc(func(ctx context.Context, input json.RawMessage) (any, error) {
		return "result", nil
	})

	require.NoError(t, registry.Register("test", act, Info{Description: "test activity", Timeout: 5 * time.Second}))
	require.NoError(t, registry.Register("defaults", act, Info{}))

	reg, err := registry.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "test", reg.Info.Name)
	assert.Equal(t, 5*time.Second, reg.Info.Timeout)

	reg, err = registry.Get("defaults")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, reg.Info.Timeout)

	assert.Error(t, registry.Register("test", act, Info{}), "duplicate registration")
	assert.Error(t, registry.Register("", act, Info{}))
	assert.Error(t, registry.Register("a:b", act, Info{}))
	assert.Error(t, registry.Register("nil", nil, Info{}))

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.Equal(t, []string{"defaults", "test"}, registry.List())
}

func TestEncodeResult(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string passes through", "plain", "plain"},
		{"raw passes through", json.RawMessage(`{"a":1}`), `{"a":1}`},
		{"struct", struct {
			N int `json:"n"`
		}{2}, `{"n":2}`},
		{"slice", []int{1, 2}, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeResult(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskContext(t *testing.T) {
	_, ok := TaskFrom(context.Background())
	assert.False(t, ok)

	task := Task{ActivityID: "a1", Name: "pull_changes", WorkflowID: "wf"}
	got, ok := TaskFrom(WithTask(context.Background(), task))
	require.True(t, ok)
	assert.Equal(t, task, got)
}
