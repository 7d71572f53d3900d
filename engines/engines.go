// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package engines defines the interface a tensor compute engine needs to
// implement to be driven by the dispatch layer (see the distributed package).
//
// The dispatch layer intercepts operations on sharded tensor handles, unwraps
// the operands and forwards them here: the engine is the single external
// collaborator that actually records/executes the computation (and, for
// sharding-aware engines, annotates the resulting computation graph). Engines
// register themselves with Register, and are selected with New/NewWithConfig.
package engines

import (
	"context"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/sharded/nest"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNotImplemented indicates an operation is not implemented by the engine.
//
// It doesn't contain a stack; attach one with errors.Wrapf(ErrNotImplemented, "...") when returning it.
var ErrNotImplemented = errors.New("operation not implemented")

// Engine is the API a tensor compute engine implements.
//
// Apply receives the already unwrapped operand trees: every leaf is either a
// plain *tensors.Tensor or a non-tensor value (numbers, axis specs, etc.) that
// passes through the dispatch layer unchanged. It returns a result tree of the
// same kind; errors propagate unchanged to the dispatch caller.
type Engine interface {
	// Name returns the short name of the engine. E.g.: "goeval" for the pure Go evaluator.
	Name() string

	// Description is a longer description of the Engine that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this Engine.
	NumDevices() int

	// Apply executes (or records, for lazy engines) the operation op over the
	// operand trees args and kwargs, and returns the result tree.
	Apply(ctx context.Context, op OpType, args, kwargs *nest.Nest[any]) (*nest.Nest[any], error)

	// Finalize releases all the associated resources immediately, and makes the engine invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns an Engine.
type Constructor func(config string) (Engine, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register an engine with the given name, and a default constructor that takes
// as input a configuration string that is passed along to the engine constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	if _, found := registeredConstructors[name]; found {
		klog.Warningf("engines.Register: re-registering engine %q", name)
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the engine configuration to use if the environment variable
// SHARDED_ENGINE is not set. See NewWithConfig for the format.
var DefaultConfig string

// ShardedEngineEnv is the environment variable with the default engine
// configuration to use.
//
// The format of the config is "<engine_name>:<engine_configuration>".
// "<engine_name>" is the name of a registered engine (e.g.: "goeval") and
// "<engine_configuration>" is engine specific.
const ShardedEngineEnv = "SHARDED_ENGINE"

// New returns a new default Engine.
//
// The default is:
//
//  1. The environment SHARDED_ENGINE is used as a configuration if defined.
//  2. Next the variable DefaultConfig is used as a configuration if defined.
//  3. The first registered engine is used with an empty configuration.
//
// It panics if no engine was registered or if the construction fails.
func New() Engine {
	config, found := os.LookupEnv(ShardedEngineEnv)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as
// "<engine_name>:<engine_configuration>" and returns the constructed engine.
//
// "<engine_name>" is the name of a registered engine (e.g.: "goeval") and
// "<engine_configuration>" is engine specific.
//
// It panics (see github.com/gomlx/exceptions) if the engine is not registered
// or its construction fails.
func NewWithConfig(config string) Engine {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered engines -- maybe import the default one with import _ "github.com/gomlx/sharded/engines/goeval"?`)
	}
	engineName := firstRegistered
	engineConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		engineName = config[:idx]
		engineConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[engineName]
	if !found {
		exceptions.Panicf("can't find engine %q for configuration %q given", engineName, config)
	}
	engine, err := constructor(engineConfig)
	if err != nil {
		panic(errors.WithMessagef(err, "engines.NewWithConfig(%q)", config))
	}
	klog.V(1).Infof("engines: created engine %q (%s)", engine.Name(), engine.Description())
	return engine
}
