// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the wrapper.
//
// Configuration is loaded from a single YAML file specified by:
//   - YURUCODE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery, and environment
// variables do not override file values. Every field has a usable
// default, so a missing config file is only an error when one was
// explicitly requested.
package config
