// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin

package main

import "log/slog"

func raiseFileLimit(uint64, *slog.Logger) {}
