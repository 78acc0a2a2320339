// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"os"

	"github.com/matsujirushi/nanoimage/internal/log"
)

// Settings configures a compile run: zero-value fields get sane defaults
// in NewCompiler, and a caller-supplied Logger always wins over the
// package default.
type Settings struct {
	// Program is the managed program to compile.
	Program ProgramImageReader

	// Replacements declares the platform substitution table.
	Replacements []ReplacementSpec

	// InitFront and InitBack are the curated static-initializer ordering
	// overrides consumed by the initializer sequencer.
	InitFront []*TypeDescriptor
	InitBack  []*TypeDescriptor

	// StringCarrier and ExceptionCarrier name the two well-known platform
	// types whose field order the layout engine must stabilize.
	StringCarrier    *TypeDescriptor
	ExceptionCarrier *TypeDescriptor

	// ArrayEnumeratorFor, when set, is consulted by the dependency walker
	// for every array type reached, to inject the matching enumerator
	// type/method.
	ArrayEnumeratorFor func(array *TypeDescriptor) (*TypeDescriptor, *MethodDescriptor)

	// Kernel holds a shared platform execution set. NewCompiler and
	// Compile do not read it: every compile walks the program in full from
	// its entry method.
	Kernel *ExecutionSet

	// CreateKernelForFlashing records the create-kernel-for-flashing
	// setting. Neither Compiler nor startupFlags reads it, and it has no
	// StartupFlags bit.
	CreateKernelForFlashing bool

	// LaunchProgramFromFlash starts the entry method by asking the device
	// to launch it from persistent flash rather than from the execution
	// engine's in-memory working copy.
	LaunchProgramFromFlash bool

	// UseFlashForProgram commits the compiled program to flash as part of
	// the upload (a CopyToFlash call) instead of leaving it only in the
	// execution engine's working copy.
	UseFlashForProgram bool

	// AutoRestartProgram has the device re-launch the entry method on its
	// own after a device reset instead of waiting for an explicit execute
	// command.
	AutoRestartProgram bool

	// AdditionalSuppressions names types, by full name, whose static
	// initializer must never run even if the walk reaches them, beyond
	// whatever InitFront/InitBack/InitDependsOn already imply.
	AdditionalSuppressions []string

	// Logger receives diagnostic output; defaults to a stderr logger
	// filtered to warnings and above.
	Logger log.Logger
}

// StartupFlags packs the upload-time launch settings into the single
// byte the image header's startup-flags field carries.
type StartupFlags uint8

const (
	StartupFlagLaunchFromFlash StartupFlags = 1 << iota
	StartupFlagUseFlashForProgram
	StartupFlagAutoRestart
)

// startupFlags derives the image header's startup-flags byte from the
// settings that shape how the device should treat the uploaded program.
func (s *Settings) startupFlags() StartupFlags {
	var flags StartupFlags
	if s.LaunchProgramFromFlash {
		flags |= StartupFlagLaunchFromFlash
	}
	if s.UseFlashForProgram {
		flags |= StartupFlagUseFlashForProgram
	}
	if s.AutoRestartProgram {
		flags |= StartupFlagAutoRestart
	}
	return flags
}

// Compiler is the top-level orchestrator wiring every compilation stage
// together for one compile run: a single struct that owns every subsystem
// instance needed to go from raw input to a finished result.
type Compiler struct {
	settings *Settings
	logger   *log.Helper

	resolver  *MetadataResolver
	registry  *ReplacementRegistry
	tokens    *TokenAllocator
	rewriter  *BytecodeRewriter
	layout    *LayoutEngine
	walker    *DependencyWalker
	vtable    *VTableResolver
	sequencer *InitializerSequencer
	synth     *SynthesizedMethodGenerator
	builder   *ExecutionSetBuilder
}

// NewCompiler validates and defaults settings, then wires every component
// needed to run Compile.
func NewCompiler(settings *Settings) (*Compiler, error) {
	if settings == nil {
		settings = &Settings{}
	}
	if settings.Program == nil {
		return nil, ErrBadEntryPoint
	}

	var logger log.Logger
	if settings.Logger == nil {
		logger = log.NewStdLogger(os.Stderr)
		logger = log.NewFilter(logger, log.FilterLevel(log.LevelWarn))
	} else {
		logger = settings.Logger
	}
	helper := log.NewHelper(logger)

	registry, err := BuildReplacementRegistry(settings.Replacements)
	if err != nil {
		return nil, err
	}

	var suppressedNames map[string]struct{}
	if len(settings.AdditionalSuppressions) > 0 {
		suppressedNames = make(map[string]struct{}, len(settings.AdditionalSuppressions))
		for _, name := range settings.AdditionalSuppressions {
			suppressedNames[name] = struct{}{}
		}
	}

	tokens := NewTokenAllocator()
	resolver := NewMetadataResolver(settings.Program)
	rewriter := NewBytecodeRewriter(resolver, registry, tokens, helper)
	layoutEngine := NewLayoutEngine(settings.StringCarrier, settings.ExceptionCarrier)
	synth := NewSynthesizedMethodGenerator(tokens)
	walker := NewDependencyWalker(rewriter, settings.ArrayEnumeratorFor, synth, suppressedNames)
	vtable := NewVTableResolver(tokens)
	sequencer := NewInitializerSequencer(settings.InitFront, settings.InitBack)
	builder := NewExecutionSetBuilder(walker, registry, layoutEngine, vtable, sequencer, tokens, synth)

	return &Compiler{
		settings:  settings,
		logger:    helper,
		resolver:  resolver,
		registry:  registry,
		tokens:    tokens,
		rewriter:  rewriter,
		layout:    layoutEngine,
		walker:    walker,
		vtable:    vtable,
		sequencer: sequencer,
		synth:     synth,
		builder:   builder,
	}, nil
}

// Compile runs the full pipeline from the program's declared entry method
// through to a finished ExecutionSet.
func (c *Compiler) Compile() (*ExecutionSet, error) {
	entry, err := c.settings.Program.EntryMethod()
	if err != nil {
		return nil, err
	}
	es, err := c.builder.Build(entry)
	if err != nil {
		return nil, err
	}
	es.StartupFlags = c.settings.startupFlags()
	c.logger.Infof("compiled execution set: %d types, %d methods, %d fields",
		len(es.Types), len(es.Methods), len(es.Fields))
	return es, nil
}

// Tokens exposes the compiler's token allocator, e.g. for a caller that
// needs to resolve a device-reported token back to a descriptor for
// diagnostics.
func (c *Compiler) Tokens() *TokenAllocator { return c.tokens }
