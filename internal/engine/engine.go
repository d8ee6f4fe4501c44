// Package engine defines the invocation contract of task engines and the
// registry that resolves engine ids to instances.
//
// Engines come in two shapes. A Detector processes every page or image of an
// input and returns one Result per page. A Processor handles the input as a
// whole. An engine may implement either or both; callers pick the method with
// a type assertion, once, at the call site.
package engine

import (
	"context"
)

// Engine is the common part of every task engine.
type Engine interface {
	Name() string
}

// Detector is a detection-style engine.
type Detector interface {
	Engine
	PredictImages(ctx context.Context, inputPath, outputDir string) ([]Result, error)
}

// Processor is a recognition-style engine. When visualize is set it may write
// image files under saveDir.
type Processor interface {
	Engine
	Process(ctx context.Context, inputPath, saveDir string, visualize bool) (Result, error)
}

// Result is the closed set of engine outputs: Detections or Opaque.
type Result interface {
	isResult()
}

// Detections is a box/class/score triple. The slices are index-aligned when
// the engine behaves; consumers must not assume equal lengths.
type Detections struct {
	Boxes   [][]float64
	Classes []float64
	Scores  []float64
}

// Opaque is any other engine output. Value is JSON-shaped: maps, slices,
// strings, numbers, booleans or nil.
type Opaque struct {
	Value any
}

func (Detections) isResult() {}
func (Opaque) isResult()     {}
