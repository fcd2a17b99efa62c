// Package model holds the global model state exchanged between the
// coordinator and its clients. Parameters are treated as opaque numeric
// tensors: the coordinator can add, scale and compare them for shape
// compatibility but never interprets their meaning.
package model

import (
	"errors"
	"fmt"
	"math"
)

var ErrShapeMismatch = errors.New("tensor shapes are not compatible")

// Tensor is one ordered slab of model weights. Values are stored flat,
// Shape records the logical dimensions clients use to reshape them.
type Tensor struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// Parameters is the full global model state, an ordered sequence of
// tensors. A Parameters value is immutable by convention: every
// transformation below returns a fresh value and never writes into its
// inputs.
type Parameters []Tensor

func NewTensor(shape []int, values []float64) (Tensor, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(values) {
		return Tensor{}, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShapeMismatch, shape, n, len(values))
	}

	return Tensor{Shape: shape, Values: values}, nil
}

// Scalar wraps a single float as a rank-1 tensor, mostly for tests and
// small demo models.
func Scalar(v float64) Tensor {
	return Tensor{Shape: []int{1}, Values: []float64{v}}
}

func (t Tensor) NumValues() int {
	return len(t.Values)
}

func (t Tensor) clone() Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	values := make([]float64, len(t.Values))
	copy(values, t.Values)

	return Tensor{Shape: shape, Values: values}
}

// Clone deep-copies p so holders of the original never observe later
// transformations.
func Clone(p Parameters) Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	for i := range p {
		out[i] = p[i].clone()
	}

	return out
}

// Compatible reports whether a and b have the same number of tensors
// with pairwise equal shapes.
func Compatible(a, b Parameters) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d tensors vs %d", ErrShapeMismatch, len(a), len(b))
	}
	for i := range a {
		if len(a[i].Values) != len(b[i].Values) {
			return fmt.Errorf("%w: tensor %d has %d values vs %d", ErrShapeMismatch, i, len(a[i].Values), len(b[i].Values))
		}
	}

	return nil
}

// ZerosLike returns a Parameters value with the same shapes as p and
// all values zero.
func ZerosLike(p Parameters) Parameters {
	out := make(Parameters, len(p))
	for i := range p {
		shape := make([]int, len(p[i].Shape))
		copy(shape, p[i].Shape)
		out[i] = Tensor{Shape: shape, Values: make([]float64, len(p[i].Values))}
	}

	return out
}

// Apply maps f over every value of p, returning a new Parameters.
func Apply(p Parameters, f func(float64) float64) Parameters {
	out := Clone(p)
	for i := range out {
		for j := range out[i].Values {
			out[i].Values[j] = f(out[i].Values[j])
		}
	}

	return out
}

// Zip combines a and b element-wise through f. The inputs must be
// shape compatible.
func Zip(a, b Parameters, f func(x, y float64) float64) (Parameters, error) {
	if err := Compatible(a, b); err != nil {
		return nil, err
	}
	out := Clone(a)
	for i := range out {
		for j := range out[i].Values {
			out[i].Values[j] = f(a[i].Values[j], b[i].Values[j])
		}
	}

	return out, nil
}

func Add(a, b Parameters) (Parameters, error) {
	return Zip(a, b, func(x, y float64) float64 { return x + y })
}

func Sub(a, b Parameters) (Parameters, error) {
	return Zip(a, b, func(x, y float64) float64 { return x - y })
}

func Scale(p Parameters, factor float64) Parameters {
	return Apply(p, func(x float64) float64 { return x * factor })
}

// Norm returns the L2 norm over all values of p.
func Norm(p Parameters) float64 {
	var sum float64
	for i := range p {
		for _, v := range p[i].Values {
			sum += v * v
		}
	}

	return math.Sqrt(sum)
}
