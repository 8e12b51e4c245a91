package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/backfill"
)

func TestRootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()
	batchSize, err := cmd.Flags().GetInt("batch-size")
	assert.NoError(t, err)
	assert.Equal(t, backfill.DefaultBatchSize, batchSize)

	dryRun, err := cmd.Flags().GetBool("dry-run")
	assert.NoError(t, err)
	assert.False(t, dryRun)
}

func TestRootCommand_RequiresTenant(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--dry-run"})

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, `required flag(s) "tenant" not set`)
}

func TestRootCommand_Help(t *testing.T) {
	cmd := newRootCommand()
	assert.Contains(t, cmd.Short, "associations.deals")
	assert.NotContains(t, cmd.Short, "dealReferences")
}
