// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cloudzero/cloudflare-d1/app/domain/emulator"
	"github.com/cloudzero/cloudflare-d1/app/domain/schema"
	"github.com/cloudzero/cloudflare-d1/app/handlers"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

const (
	testAccount = "acct"
	testToken   = "tok"
)

type fixture struct {
	srv *httptest.Server
	id  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	emu, err := emulator.New()
	require.NoError(t, err)
	require.NoError(t, emu.Run())
	t.Cleanup(func() { _ = emu.Shutdown() })

	d, err := emu.CreateDatabase(context.Background(), testAccount, "cli")
	require.NoError(t, err)

	srv := httptest.NewServer(handlers.NewD1API(apiBase, emu, handlers.WithAPIToken(testToken)).Handler())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, id: d.ID}
}

func (f fixture) dsn() string {
	return "d1://" + testAccount + ":" + testToken + "@" + f.id + "?" +
		url.Values{"endpoint": {f.srv.URL + apiBase}}.Encode()
}

// run executes d1ctl with args and returns what it printed on stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (f fixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, append([]string{"--dsn", f.dsn()}, args...)...)
	require.NoError(t, err)
	return out
}

func (f fixture) seed(t *testing.T) {
	t.Helper()
	f.mustRun(t, "exec", "CREATE TABLE pet (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER, weight REAL, vaccinated INTEGER)")
	f.mustRun(t, "exec", "CREATE INDEX idx_pet_name ON pet (name)")
	f.mustRun(t, "exec", "INSERT INTO pet (name, age, weight, vaccinated) VALUES (?, ?, ?, ?)", "rex", "3", "12.5", "true")
	f.mustRun(t, "exec", "INSERT INTO pet (name, age, weight, vaccinated) VALUES (?, ?, ?, ?)", "tom", "null", "4", "false")
}

func TestUnit_D1ctl_Exec(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, "exec", "CREATE TABLE t (v TEXT)")

	out := f.mustRun(t, "exec", "INSERT INTO t VALUES (?), (?)", "a", "b")
	var res execResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(2), res.Changes)
	require.NotNil(t, res.LastRowID)
	assert.Equal(t, int64(2), *res.LastRowID)

	out = f.mustRun(t, "-o", "yaml", "exec", "DELETE FROM t")
	assert.Contains(t, out, "changes: 2")
}

func TestUnit_D1ctl_Query(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out := f.mustRun(t, "query", "SELECT name, age, weight, vaccinated FROM pet ORDER BY id")
	assert.JSONEq(t, `[
		{"name":"rex","age":3,"weight":12.5,"vaccinated":1},
		{"name":"tom","age":null,"weight":4,"vaccinated":0}
	]`, out)
	// column order is kept
	assert.True(t, strings.Index(out, `"name"`) < strings.Index(out, `"age"`))

	out = f.mustRun(t, "query", "SELECT name FROM pet WHERE age = ?", "3")
	assert.JSONEq(t, `[{"name":"rex"}]`, out)

	out = f.mustRun(t, "query", "--strings", "SELECT COUNT(*) AS n FROM pet WHERE name = ?", "true")
	assert.JSONEq(t, `[{"n":0}]`, out)

	out = f.mustRun(t, "query", "SELECT id, name FROM pet WHERE id < 0")
	assert.JSONEq(t, `[]`, out)
}

func TestUnit_D1ctl_QueryYAML(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out := f.mustRun(t, "-o", "yaml", "query", "SELECT name, weight FROM pet ORDER BY id")
	var rows []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []map[string]any{
		{"name": "rex", "weight": 12.5},
		{"name": "tom", "weight": 4},
	}, rows)
	assert.True(t, strings.Index(out, "name: rex") < strings.Index(out, "weight: 12.5"), out)
}

func TestUnit_D1ctl_QueryJQ(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out := f.mustRun(t, "query", "--jq", ".[] | select(.vaccinated == 1) | .name", "SELECT * FROM pet")
	assert.Equal(t, "\"rex\"\n", out)

	out = f.mustRun(t, "query", "--jq", "map(.weight) | add", "SELECT weight FROM pet")
	assert.Equal(t, "16.5\n", out)

	_, err := run(t, "--dsn", f.dsn(), "query", "--jq", ".[", "SELECT 1")
	assert.ErrorContains(t, err, "parse jq expression")
}

func TestUnit_D1ctl_Tables(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.mustRun(t, "exec", "CREATE TABLE owner (id INTEGER PRIMARY KEY, pet_id INTEGER REFERENCES pet (id))")

	var names []string
	require.NoError(t, json.Unmarshal([]byte(f.mustRun(t, "tables")), &names))
	assert.Equal(t, []string{"owner", "pet"}, names)

	var described []schema.Table
	require.NoError(t, json.Unmarshal([]byte(f.mustRun(t, "tables", "--describe")), &described))
	require.Len(t, described, 2)
	assert.Equal(t, "owner", described[0].Name)
	require.Len(t, described[0].ForeignKeys, 1)
	assert.Equal(t, "pet", described[0].ForeignKeys[0].ReferredTable)

	out := f.mustRun(t, "-o", "yaml", "tables", "pet")
	var pet []schema.Table
	require.NoError(t, yaml.Unmarshal([]byte(out), &pet))
	require.Len(t, pet, 1)
	assert.Equal(t, []string{"id"}, pet[0].PrimaryKey)
	assert.Equal(t, []schema.Index{{Name: "idx_pet_name", Columns: []string{"name"}}}, pet[0].Indexes)
	assert.Len(t, pet[0].Columns, 5)
}

func TestUnit_D1ctl_ConfigFile(t *testing.T) {
	f := newFixture(t)

	cfg := filepath.Join(t.TempDir(), "d1.yml")
	require.NoError(t, os.WriteFile(cfg, []byte(`d1:
  account_id: `+testAccount+`
  api_token: `+testToken+`
  database_id: `+f.id+`
  endpoint: `+f.srv.URL+apiBase+`
  retrieval: raw
logging:
  level: error
`), 0o600))

	out, err := run(t, "--config", cfg, "query", "SELECT 1 AS one")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"one":1}]`, out)
}

func TestUnit_D1ctl_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, "--dsn", f.dsn(), "-o", "xml", "query", "SELECT 1")
	assert.ErrorContains(t, err, "output must be json or yaml")

	_, err = run(t, "--dsn", f.dsn(), "query", "SELECT * FROM missing")
	assert.ErrorIs(t, err, types.ErrOperational)
	assert.ErrorContains(t, err, "no such table")

	_, err = run(t, "--dsn", "bogus://x", "query", "SELECT 1")
	assert.ErrorIs(t, err, types.ErrInterface)

	_, err = run(t, "--dsn", f.dsn(), "query")
	assert.Error(t, err)
}

func TestUnit_D1ctl_ParseParams(t *testing.T) {
	params, err := parseParams([]string{"42", "1.5", "true", "null", "hello", "[1, 2]", "{a: 1}"}, false)
	require.NoError(t, err)
	assert.Equal(t, []any{42, 1.5, true, nil, "hello", "[1, 2]", "{a: 1}"}, params)

	params, err = parseParams([]string{"42", "null"}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"42", "null"}, params)
}

func TestUnit_D1ctl_EmulatorDSN(t *testing.T) {
	s, err := (&globals{}).settings()
	require.NoError(t, err)

	dsn := emulatorDSN(s, "db-1")
	assert.Equal(t, "http://localhost:8787/client/v4/accounts/local/d1/database/db-1", dsn.BaseURL())
	assert.NotContains(t, dsn.Redacted(), "local-token")
	assert.Contains(t, dsn.String(), "local-token")
}
