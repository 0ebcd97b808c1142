// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package main

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// raiseFileLimit lifts RLIMIT_NOFILE to at least n descriptors.
func raiseFileLimit(n uint64, logger *slog.Logger) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		logger.Warn("failed to read file descriptor limit", slog.String("error", err.Error()))
		return
	}
	if rl.Cur >= n {
		return
	}

	want := unix.Rlimit{Cur: n, Max: max(rl.Max, n)}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err != nil {
		// Unprivileged processes may still raise the soft limit up to the hard one.
		want = unix.Rlimit{Cur: min(n, rl.Max), Max: rl.Max}
		if err2 := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err2 != nil {
			logger.Warn("failed to raise file descriptor limit",
				slog.Uint64("want", n),
				slog.Uint64("current", rl.Cur),
				slog.String("error", err.Error()))
			return
		}
		logger.Warn("file descriptor limit below client capacity",
			slog.Uint64("want", n),
			slog.Uint64("limit", want.Cur))
		return
	}
	logger.Info("raised file descriptor limit", slog.Uint64("limit", n))
}
