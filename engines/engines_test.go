// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package engines_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/engines/notimplemented"
	"github.com/gomlx/sharded/nest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEngine embeds the notimplemented engine and overrides identification.
type mockEngine struct {
	notimplemented.Engine
	config string
}

func (e *mockEngine) Name() string        { return "mock" }
func (e *mockEngine) Description() string { return fmt.Sprintf("mock engine (config=%q)", e.config) }

func init() {
	engines.Register("mock", func(config string) (engines.Engine, error) {
		if config == "fail" {
			return nil, fmt.Errorf("mock construction failure")
		}
		return &mockEngine{config: config}, nil
	})
}

func TestNewWithConfig(t *testing.T) {
	e := engines.NewWithConfig("mock:devices=4")
	assert.Equal(t, "mock", e.Name())
	assert.Contains(t, e.Description(), `"devices=4"`)

	// Empty config selects the first registered engine.
	e = engines.NewWithConfig("")
	assert.Equal(t, "mock", e.Name())

	// Unknown engine names and construction failures panic with an exception.
	assert.NotNil(t, exceptions.Try(func() { engines.NewWithConfig("nosuchengine:") }))
	assert.Panics(t, func() { engines.NewWithConfig("mock:fail") })
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(engines.ShardedEngineEnv, "mock:from-env")
	e := engines.New()
	assert.Equal(t, "mock", e.Name())
	assert.Contains(t, e.Description(), `"from-env"`)
}

func TestNotImplemented(t *testing.T) {
	e := notimplemented.Engine{}
	_, err := e.Apply(context.Background(), engines.OpAdd, nest.Value[any](nil), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engines.ErrNotImplemented)
	assert.Contains(t, err.Error(), "Add")
}

func TestOpType(t *testing.T) {
	assert.Equal(t, "MatMul", engines.OpMatMul.String())
	assert.Equal(t, "Add", engines.OpAdd.String())
	assert.Equal(t, "OpType(99)", engines.OpType(99).String())

	assert.True(t, engines.OpNeg.IsUnary())
	assert.False(t, engines.OpNeg.IsBinary())
	assert.True(t, engines.OpAdd.IsBinary())
	assert.False(t, engines.OpAdd.IsUnary())
}

func TestMeshNumDevices(t *testing.T) {
	mesh := engines.Mesh{Name: "mesh", AxesSizes: []int{4, 2}, AxesNames: []string{"x", "y"}}
	assert.Equal(t, 8, mesh.NumDevices())
	assert.Equal(t, 1, engines.Mesh{}.NumDevices())
}
