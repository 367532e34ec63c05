package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureNetwork_Idempotent(t *testing.T) {
	cli := newFakeClient()
	prov := NewProvisioner(cli, nil)

	created, err := prov.EnsureNetwork("dbstack-net")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = prov.EnsureNetwork("dbstack-net")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, cli.networkCreates)
}

func TestEnsureVolume_Idempotent(t *testing.T) {
	cli := newFakeClient()
	prov := NewProvisioner(cli, nil)

	created, err := prov.EnsureVolume("secure-postgres-data")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = prov.EnsureVolume("secure-postgres-data")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, cli.volumeCreates)
}
