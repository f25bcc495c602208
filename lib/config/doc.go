// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for Benedicte clients.
//
// Configuration comes from exactly one file, named by the
// BENEDICTE_CONFIG environment variable or passed explicitly (the CLI's
// --config flag). There is no discovery and no layering of multiple
// files. Files ending in .json or .jsonc are parsed as JSON with
// comments and trailing commas allowed; everything else is YAML.
//
// Only ${VAR} and ${VAR:-default} references in path-valued fields are
// expanded. Other environment variables never override file values.
package config
