// Copyright 2026 The objcap Authors
// This file is part of objcap.
//
// objcap is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// objcap is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with objcap.  If not, see <http://www.gnu.org/licenses/>.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcap/objcap/config"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objcap.toml")
	contents := `
max_inbound_concurrency = 8
call_timeout = "5s"
metrics_addr = "127.0.0.1:9090"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxInboundConcurrency)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	// Fields absent from the file keep their default value.
	assert.Equal(t, config.Default().FreeQueueDepth, cfg.FreeQueueDepth)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
