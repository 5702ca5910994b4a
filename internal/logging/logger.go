// Copyright 2024 The Qosprobe Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the structured logger used across qosprobe. It
// wraps zerolog behind the printf-style call shape the rest of the codebase
// expects, so call sites read the same regardless of which sink is plugged
// in underneath.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin, printf-style wrapper around a zerolog.Logger. The zero
// value is not usable; construct one with New or Nop.
type Logger struct {
	z zerolog.Logger
}

// New returns a Logger that writes one timestamped JSON object per line to
// w, or to os.Stderr when w is nil.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything. Used as a safe default when
// a caller doesn't supply one, mirroring cloudprober's "if l == nil, use a
// zero-value logger" convention.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// With returns a child Logger with the given key/value pairs attached to
// every subsequent line, e.g. With("run_id", id.String()).
func (l *Logger) With(kv ...string) *Logger {
	if l == nil {
		return Nop()
	}
	ctx := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Str(kv[i], kv[i+1])
	}
	return &Logger{z: ctx.Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Info().Msgf(format, args...)
}

func (l *Logger) Warningf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Error().Msgf(format, args...)
}
