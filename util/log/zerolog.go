// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zaLog

import (
	"github.com/rs/zerolog"
)

type zeroLogger struct {
	mod string
	zerolog.Logger
}

// Zerolog wraps a zerolog.Logger in the Logger interface.
//
// Sub loggers are created with a "sublogger" string field, or a "module" field
// for the top-level logger if it doesn't already have one.
func Zerolog(log zerolog.Logger) Logger {
	return &zeroLogger{Logger: log}
}

func (z *zeroLogger) Errorf(msg string, args ...any) { z.Error().Msgf(msg, args...) }
func (z *zeroLogger) Warnf(msg string, args ...any)  { z.Warn().Msgf(msg, args...) }
func (z *zeroLogger) Infof(msg string, args ...any)  { z.Info().Msgf(msg, args...) }
func (z *zeroLogger) Debugf(msg string, args ...any) { z.Debug().Msgf(msg, args...) }

func (z *zeroLogger) Sub(module string) Logger {
	mod := module
	if z.mod != "" {
		mod = z.mod + "/" + module
	}
	return &zeroLogger{mod: mod, Logger: z.Logger.With().Str("sublogger", mod).Logger()}
}
