package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecode(t *testing.T) {
	id := snowflakeid.Encode(1700000000123, 1, 7)
	out, err := runCmd(t, "decode", strconv.FormatUint(id, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "epoch=1700000000.123 counter=1 node=7")
	assert.Contains(t, out, "time=2073-11-13T22:13:20.123Z")

	_, err = runCmd(t, "decode", "not-an-id")
	require.Error(t, err)
	_, err = runCmd(t, "decode", "-1")
	require.Error(t, err)
}

func TestGen(t *testing.T) {
	out, err := runCmd(t, "gen", "-n", "3", "--node", "5")
	require.NoError(t, err)
	lines := strings.Fields(out)
	require.Len(t, lines, 3)
	var prev int64
	for _, line := range lines {
		id, err := strconv.ParseInt(line, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		assert.Equal(t, 5, snowflakeid.DecodeNode(id))
		prev = id
	}

	_, err = runCmd(t, "gen")
	require.ErrorIs(t, err, snowflakeid.ErrNodeUnset)
}

func TestSequenceCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := runCmd(t, "--data-dir", dir, "create", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, `created sequence "orders" id 1`)

	out, err = runCmd(t, "--data-dir", dir, "--node", "3", "nextval", "orders", "-n", "4")
	require.NoError(t, err)
	values := strings.Fields(out)
	require.Len(t, values, 4)

	// A restart continues above the values already issued.
	out, err = runCmd(t, "--data-dir", dir, "--node", "3", "nextval", "orders")
	require.NoError(t, err)
	last, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	require.NoError(t, err)
	for _, v := range values {
		prev, err := strconv.ParseInt(v, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, last, prev)
	}
	assert.Equal(t, 3, snowflakeid.DecodeNode(last))

	_, err = runCmd(t, "--data-dir", dir, "nextval", "orders")
	require.ErrorIs(t, err, snowflakeid.ErrNodeUnset)

	_, err = runCmd(t, "--data-dir", dir, "checkpoint")
	require.NoError(t, err)

	out, err = runCmd(t, "--data-dir", dir, "inspect", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "last="+strconv.FormatInt(last, 10))
	assert.Contains(t, out, "dirty=false")

	_, err = runCmd(t, "--data-dir", dir, "create", "customers", "--kind", "table")
	require.NoError(t, err)
	out, err = runCmd(t, "--data-dir", dir, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "customers")
	assert.Contains(t, out, "table")

	_, err = runCmd(t, "--data-dir", dir, "nextval", "missing")
	require.Error(t, err)
}
