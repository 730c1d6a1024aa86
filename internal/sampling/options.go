// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package sampling draws uniform random samples from batch sources,
// either in one pass with a reservoir or in two passes that first count
// the rows and then extract preselected positions.
package sampling

import (
	"errors"
	"fmt"
	"math"

	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/schema"
)

// Mode selects the sampling discipline.
type Mode string

const (
	// ModeAuto picks single-pass unless a fraction is requested from a
	// source whose row count is unknown.
	ModeAuto    Mode = "auto"
	ModeSingle  Mode = "single"
	ModeTwoPass Mode = "two-pass"
	// ModeBernoulli keeps each row independently; it is chosen
	// automatically for fractions over one-shot streams of unknown length.
	ModeBernoulli Mode = "bernoulli"
)

// ParseMode accepts the names used in configuration and flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeSingle, "single-pass", "reservoir":
		return ModeSingle, nil
	case ModeTwoPass, "twopass":
		return ModeTwoPass, nil
	case ModeBernoulli:
		return ModeBernoulli, nil
	default:
		return "", &OptionsError{Reason: fmt.Sprintf("unknown mode %q", s)}
	}
}

// DefaultSeed is used when the caller does not pick one.
const DefaultSeed int64 = 42

// Options configures one sample run. Exactly one of N and Fraction is set.
type Options struct {
	N         int64
	Fraction  float64
	Seed      int64
	Mode      Mode
	BatchSize int // rows per read; 0 uses the reader default
}

// ErrInvalidOptions matches every OptionsError.
var ErrInvalidOptions = errors.New("invalid sampling options")

// OptionsError describes a rejected parameter combination.
type OptionsError struct {
	Reason string
}

func (e *OptionsError) Error() string {
	return ErrInvalidOptions.Error() + ": " + e.Reason
}

func (e *OptionsError) Is(target error) bool {
	return target == ErrInvalidOptions
}

// Validate rejects bad parameters before any I/O happens.
func (o Options) Validate() error {
	switch {
	case o.N != 0 && o.Fraction != 0:
		return &OptionsError{Reason: "n and fraction are mutually exclusive"}
	case o.N == 0 && o.Fraction == 0:
		return &OptionsError{Reason: "one of n or fraction is required"}
	case o.N < 0:
		return &OptionsError{Reason: fmt.Sprintf("n must be positive, got %d", o.N)}
	case o.Fraction != 0 && (math.IsNaN(o.Fraction) || o.Fraction <= 0 || o.Fraction > 1):
		return &OptionsError{Reason: fmt.Sprintf("fraction must be in (0, 1], got %v", o.Fraction)}
	}
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	return nil
}

// targetCount resolves the sample size once the total row count is known.
func (o Options) targetCount(total int64) int64 {
	if o.N > 0 {
		return min(o.N, total)
	}
	return min(int64(math.Round(o.Fraction*float64(total))), total)
}

// Result is a finished sample. Rows are owned by the caller.
type Result struct {
	Schema *schema.Schema
	Rows   []pipeline.Row
	// Total is the number of rows in the source.
	Total int64
	// Mode is the discipline actually used.
	Mode Mode
}

// Source serves the sample as a reader, for writing it to a sink.
func (r *Result) Source() *pipeline.SliceSource {
	return pipeline.NewSliceSource(r.Schema, r.Rows)
}
