package deploy

import (
	"fmt"
	"strings"

	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote/paths"
)

// rayHeadCommand boots the head node, binding ray to the internal
// address the workers dial.
func rayHeadCommand(internalIP string, rayPort int) string {
	return fmt.Sprintf("ray start --head --node-ip-address %s --port %d --dashboard-host 0.0.0.0", internalIP, rayPort)
}

// rayWorkerCommand joins a worker to the head
func rayWorkerCommand(masterInternalIP string, rayPort int) string {
	return fmt.Sprintf("ray start --address %s:%d", masterInternalIP, rayPort)
}

// rebootTaskName tags the @reboot cron entry so uninstall can find it
func rebootTaskName(clusterID string) string {
	return clusterID + "_ray"
}

// clusterUnitName is the vLLM systemd unit on the master
func clusterUnitName(clusterID string) string {
	return clusterID + ".service"
}

// vllmServeCommand builds the inference server invocation. The adapter
// alias is fixed to base_model so completion requests address the bare
// model and adapters by their own ids.
func vllmServeCommand(cluster *models.DeployCluster, gpuNum, machineNum, port int) string {
	return fmt.Sprintf("vllm serve %s --served-model-name base_model --enable-lora "+
		"--tensor-parallel-size=%d --pipeline-parallel-size=%d --gpu-memory-utilization 0.9 "+
		"--distributed-executor-backend ray --host 0.0.0.0 --port %d",
		cluster.BaseModel, gpuNum, machineNum, port)
}

// renderVLLMUnit produces the master's unit file content
func renderVLLMUnit(cluster *models.DeployCluster, gpuNum, machineNum, port int, layout paths.Layout) string {
	runLog := layout.DeployRunLog(cluster.ID)
	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=forge deploy %s\n", cluster.ID)
	b.WriteString("After=network.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	b.WriteString("Environment=VLLM_USE_MODELSCOPE=true\n")
	b.WriteString("Environment=VLLM_ALLOW_RUNTIME_LORA_UPDATING=true\n")
	fmt.Fprintf(&b, "ExecStart=/bin/bash -lc '%s'\n", vllmServeCommand(cluster, gpuNum, machineNum, port))
	fmt.Fprintf(&b, "StandardOutput=append:%s\n", runLog)
	fmt.Fprintf(&b, "StandardError=append:%s\n", runLog)
	b.WriteString("Restart=no\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}

// installVLLMUnitCommand writes the unit file and reloads the daemon
func installVLLMUnitCommand(cluster *models.DeployCluster, gpuNum, machineNum, port int, layout paths.Layout) string {
	return fmt.Sprintf("mkdir -p %s && cat > /etc/systemd/system/%s <<'FORGE_UNIT_EOF'\n%sFORGE_UNIT_EOF\nsystemctl daemon-reload",
		layout.DeployDir(cluster.ID), clusterUnitName(cluster.ID), renderVLLMUnit(cluster, gpuNum, machineNum, port, layout))
}

// removeVLLMUnitCommand disables, stops and deletes the unit
func removeVLLMUnitCommand(clusterID string) string {
	unit := clusterUnitName(clusterID)
	return fmt.Sprintf("systemctl disable %s || true; systemctl stop %s || true; rm -f /etc/systemd/system/%s; systemctl daemon-reload",
		unit, unit, unit)
}

// untarLoraCommand unpacks an uploaded adapter tarball in place
func untarLoraCommand(clusterID, loraID string, layout paths.Layout) string {
	return fmt.Sprintf("tar -xzf %s -C %s", layout.LoraTar(clusterID, loraID), layout.LoraDir(clusterID, loraID))
}
