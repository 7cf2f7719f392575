package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployCluster_ResetRayStatus(t *testing.T) {
	cluster := &DeployCluster{
		BaseEntity:    NewBaseEntity("u1", "g1"),
		MachineIDList: []string{"m1", "m2", "m3"},
	}

	cluster.ResetRayStatus(DeployStatusDeploying)

	require.Len(t, cluster.RayStatusList, 3)
	for i, id := range cluster.MachineIDList {
		assert.Equal(t, id, cluster.RayStatusList[i].MachineID)
		assert.Equal(t, DeployStatusDeploying, cluster.RayStatusList[i].Status)
	}
}

func TestDeployCluster_FindLora(t *testing.T) {
	cluster := &DeployCluster{
		LoraInfoList: []LoraInfo{
			{ID: "l1", Status: LoraStatusInit},
			{ID: "l2", Status: LoraStatusStarting},
		},
	}

	lora := cluster.FindLora("l2")
	require.NotNil(t, lora)
	assert.Equal(t, LoraStatusStarting, lora.Status)

	// returned pointer aliases the slice entry so callers can mutate
	lora.Status = LoraStatusUninstalled
	assert.Equal(t, LoraStatusUninstalled, cluster.LoraInfoList[1].Status)

	assert.Nil(t, cluster.FindLora("missing"))
}

func TestDeployCluster_MasterID(t *testing.T) {
	cluster := &DeployCluster{MachineIDList: []string{"head", "w1"}}
	assert.Equal(t, "head", cluster.MasterID())

	empty := &DeployCluster{}
	assert.Equal(t, "", empty.MasterID())
}
