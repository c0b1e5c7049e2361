// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/contextgraph/services/contextgraph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/analysis"
	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
	"github.com/AleutianAI/contextgraph/services/contextgraph/storage/badger"
	"github.com/AleutianAI/contextgraph/services/contextgraph/store"
)

func writeIndex(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	rel := artifact.GraphRelations{
		Version: 1,
		CallGraph: &artifact.Graph{Nodes: []artifact.GraphNode{
			{ID: "a", File: "src/a.js", Out: []string{"b"}},
			{ID: "b", File: "src/b.js", In: []string{"a"}, Out: []string{"c"}},
			{ID: "c", File: "src/c.js", In: []string{"b"}},
		}},
	}
	data, err := json.Marshal(rel)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.NameGraphRelations+".json"), data, 0o600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQuery(t *testing.T) {
	dir := writeIndex(t)

	out, err := execute(t, "query", "--index-dir", dir, "--chunk", "a", "--depth", "2", "--direction", "out", "--paths")
	require.NoError(t, err)

	var res neighborhood.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Nodes, 3)
	assert.Len(t, res.Edges, 2)
	assert.Len(t, res.Paths, 2)
}

func TestQuery_CapsFromFlags(t *testing.T) {
	dir := writeIndex(t)

	out, err := execute(t, "query", "--index-dir", dir, "--chunk", "a", "--depth", "2", "--max-nodes", "2")
	require.NoError(t, err)

	var res neighborhood.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Nodes, 2)
	require.NotNil(t, res.TruncationFor("maxNodes"))
}

func TestQuery_Errors(t *testing.T) {
	dir := writeIndex(t)

	_, err := execute(t, "query", "--index-dir", dir)
	assert.ErrorIs(t, err, errNoSeed)

	_, err = execute(t, "query", "--chunk", "a")
	assert.ErrorIs(t, err, store.ErrIndexDirRequired)

	_, err = execute(t, "query", "--index-dir", dir, "--chunk", "a", "--direction", "sideways")
	assert.Error(t, err)
}

func TestSnapshotThenQuery(t *testing.T) {
	dir := writeIndex(t)
	db := filepath.Join(t.TempDir(), "snap")

	out, err := execute(t, "snapshot", "--index-dir", dir, "--db", db)
	require.NoError(t, err)
	var imp badger.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &imp))
	assert.Equal(t, []string{artifact.NameGraphRelations}, imp.Imported)

	// The snapshot keeps serving after the directory is emptied.
	require.NoError(t, os.Remove(filepath.Join(dir, artifact.NameGraphRelations+".json")))
	t.Setenv("CONTEXTGRAPH_BADGER_PATH", db)

	out, err = execute(t, "query", "--index-dir", dir, "--chunk", "a")
	require.NoError(t, err)
	var res neighborhood.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Nodes, 3)
	assert.False(t, res.HasWarning(neighborhood.WarnMissingGraphRelations))
}

func TestSnapshot_RequiresPath(t *testing.T) {
	_, err := execute(t, "snapshot", "--index-dir", writeIndex(t))
	assert.ErrorIs(t, err, badger.ErrPathRequired)
}

func TestStats(t *testing.T) {
	dir := writeIndex(t)
	t.Setenv("CONTEXTGRAPH_BADGER_IN_MEMORY", "true")

	out, err := execute(t, "stats", "--index-dir", dir)
	require.NoError(t, err)

	var got struct {
		Health contextgraph.HealthResponse `json:"health"`
		Stats  contextgraph.StatsResponse  `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "healthy", got.Health.Status)
	assert.Equal(t, int64(1), got.Stats.Store.Builds)
	require.NotNil(t, got.Stats.Store.LastBuild)
	assert.Equal(t, 3, got.Stats.Store.LastBuild.Graphs["callGraph"].Nodes)
}

func TestImpact(t *testing.T) {
	dir := writeIndex(t)

	out, err := execute(t, "impact", "--index-dir", dir, "--chunk", "a", "--depth", "2")
	require.NoError(t, err)

	var res neighborhood.ImpactResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, neighborhood.ImpactDownstream, res.Direction)
	require.Len(t, res.Impacted, 2)
	assert.Equal(t, "chunk:b", res.Impacted[0].Ref.Key())
	assert.Equal(t, "chunk:c", res.Impacted[1].Ref.Key())
	require.NotNil(t, res.Impacted[1].WitnessPath)
	assert.Equal(t, 2, res.Impacted[1].WitnessPath.Distance)

	out, err = execute(t, "impact", "--index-dir", dir, "--chunk", "c", "--direction", "upstream")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Impacted, 1)
	assert.Equal(t, "chunk:b", res.Impacted[0].Ref.Key())

	_, err = execute(t, "impact", "--index-dir", dir)
	assert.ErrorIs(t, err, errNoChange)

	_, err = execute(t, "impact", "--index-dir", dir, "--changed", "src/a.js", "--direction", "sideways")
	assert.Error(t, err)
}

func TestSuggestTests(t *testing.T) {
	dir := writeIndex(t)

	t.Run("listed tests", func(t *testing.T) {
		out, err := execute(t, "suggest-tests", "--index-dir", dir,
			"--changed", "src/a.js", "--tests", "src/a.test.js,lib/other.test.js")
		require.NoError(t, err)

		var res analysis.SuggestReport
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Suggestions, 1)
		assert.Equal(t, "src/a.test.js", res.Suggestions[0].TestPath)
	})

	t.Run("discovered under repo root", func(t *testing.T) {
		repo := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(repo, "src"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "b.test.js"), []byte("test"), 0o600))

		out, err := execute(t, "suggest-tests", "--index-dir", dir, "--repo-root", repo, "--changed", "src/b.js")
		require.NoError(t, err)

		var res analysis.SuggestReport
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Suggestions, 1)
		assert.Equal(t, "src/b.test.js", res.Suggestions[0].TestPath)
		assert.Equal(t, "name match: b", res.Suggestions[0].Reason)
	})

	t.Run("no repo root to discover under", func(t *testing.T) {
		_, err := execute(t, "suggest-tests", "--index-dir", dir, "--changed", "src/a.js")
		assert.ErrorIs(t, err, analysis.ErrRepoRootRequired)
	})
}

func TestArchitecture(t *testing.T) {
	dir := writeIndex(t)
	rules := filepath.Join(t.TempDir(), "architecture.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`version: 1
rules:
  - id: a-must-not-call-b
    type: forbiddenCall
    from: {anyOf: ["src/a.js"]}
    to: {anyOf: ["src/b.js"]}
`), 0o600))

	out, err := execute(t, "architecture", "--index-dir", dir, "--rules", rules)
	require.NoError(t, err)
	var res analysis.ArchitectureReport
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "a-must-not-call-b", res.Violations[0].RuleID)

	_, err = execute(t, "architecture", "--index-dir", dir, "--rules", rules, "--fail-on-violation")
	assert.ErrorIs(t, err, errViolations)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 3\nrules: []\n"), 0o600))
	_, err = execute(t, "architecture", "--index-dir", dir, "--rules", bad)
	assert.ErrorIs(t, err, analysis.ErrInvalidRules)
}
