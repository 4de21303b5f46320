//go:build !windows

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLsof(t *testing.T) {
	occ, err := parseLsof([]byte("p4242\ncnode\nf12\n"))
	require.NoError(t, err)
	assert.Equal(t, &Occupant{PID: 4242, Command: "node"}, occ)

	// Only the first listener is reported.
	occ, err = parseLsof([]byte("p10\ncvite\np11\ncother\n"))
	require.NoError(t, err)
	assert.Equal(t, 10, occ.PID)
	assert.Equal(t, "vite", occ.Command)

	_, err = parseLsof(nil)
	assert.Error(t, err)

	_, err = parseLsof([]byte("pnotanumber\n"))
	assert.Error(t, err)
}
