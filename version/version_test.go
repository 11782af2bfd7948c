package version

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetArgs(nil)
	require.NoError(t, Cmd.Execute())

	fields := strings.Fields(out.String())
	require.True(t, len(fields) >= 3)
	assert.Equal(t, Package, fields[1])
	assert.Equal(t, Version, fields[2])
}
