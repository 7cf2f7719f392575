package finetune

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote/paths"
)

const masterPort = 29500

// trainCommand builds the llamafactory invocation for one node. The
// topology decides the launcher: a single machine with one GPU runs the
// CLI directly, a single multi-GPU machine forces torchrun, and a
// multi-machine job additionally pins the rendezvous to the master's
// internal address.
func trainCommand(job *models.FinetuneJob, rank int, layout paths.Layout) string {
	configPath := layout.JobTrainConfig(job.ID)
	base := fmt.Sprintf("llamafactory-cli train %s", configPath)

	if job.NodeCount() == 1 {
		if job.Master().GPUCount <= 1 {
			return base
		}
		return "FORCE_TORCHRUN=1 " + base
	}

	return fmt.Sprintf("FORCE_TORCHRUN=1 NNODES=%d NODE_RANK=%d MASTER_ADDR=%s MASTER_PORT=%d %s",
		job.NodeCount(), rank, job.Master().InternalIP, masterPort, base)
}

// unitName is the systemd unit a job runs under on every node
func unitName(jobID string) string {
	return jobID + ".service"
}

// renderUnit produces the transient unit file content. The unit is
// one-shot in spirit: Restart=no, stdout appended to the run log so the
// watcher and the UI tail one file.
func renderUnit(job *models.FinetuneJob, rank int, layout paths.Layout) string {
	runLog := layout.JobRunLog(job.ID)
	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=forge finetune %s\n", job.ID)
	b.WriteString("After=network.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", layout.JobDir(job.ID))
	b.WriteString("Environment=USE_MODELSCOPE_HUB=true\n")
	fmt.Fprintf(&b, "ExecStart=/bin/bash -lc '%s'\n", trainCommand(job, rank, layout))
	fmt.Fprintf(&b, "StandardOutput=append:%s\n", runLog)
	fmt.Fprintf(&b, "StandardError=append:%s\n", runLog)
	b.WriteString("Restart=no\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}

// installUnitCommand writes the unit file through a quoted heredoc and
// reloads the daemon in one shot.
func installUnitCommand(job *models.FinetuneJob, rank int, layout paths.Layout) string {
	return fmt.Sprintf("mkdir -p %s && cat > /etc/systemd/system/%s <<'FORGE_UNIT_EOF'\n%sFORGE_UNIT_EOF\nsystemctl daemon-reload",
		layout.JobDir(job.ID), unitName(job.ID), renderUnit(job, rank, layout))
}

// removeUnitCommand stops and deletes the unit, tolerating a unit that
// never existed.
func removeUnitCommand(jobID string) string {
	unit := unitName(jobID)
	return fmt.Sprintf("systemctl stop %s || true; rm -f /etc/systemd/system/%s; systemctl daemon-reload", unit, unit)
}

// tarOutputCommand packs the master's training output for download
func tarOutputCommand(job *models.FinetuneJob, layout paths.Layout) string {
	return fmt.Sprintf("tar -czvf %s -C %s output", layout.JobModelTar(job.ID), layout.JobDir(job.ID))
}

// trainYAML merges every embedded config group into one llamafactory
// config, then overlays the keys the orchestrator owns: stage, dataset
// wiring and output locations. Caller-supplied values never override
// those.
func trainYAML(job *models.FinetuneJob, layout paths.Layout, withDeepspeed bool) ([]byte, error) {
	merged := map[string]interface{}{}
	for _, config := range job.FinetuneConfigList {
		if config.Type == models.ConfigTypeDeepspeedArguments {
			continue
		}
		args, err := config.DecodeArgs()
		if err != nil {
			return nil, err
		}
		for key, value := range args {
			merged[key] = value
		}
	}

	merged["stage"] = strings.ToLower(string(job.Stage))
	merged["do_train"] = true
	merged["finetuning_type"] = job.FinetuneMethod
	merged["dataset"] = job.DatasetVersion.ID
	merged["dataset_dir"] = path.Dir(layout.DatasetInfoFile(job.ID))
	merged["output_dir"] = layout.JobOutputDir(job.ID)
	if withDeepspeed {
		merged["deepspeed"] = layout.JobDeepspeedConfig(job.ID)
	}

	// stable key order keeps uploads idempotent across restarts
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	ordered := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(merged[key]); err != nil {
			return nil, fmt.Errorf("failed to encode train config key %s: %w", key, err)
		}
		ordered.Content = append(ordered.Content, keyNode, valueNode)
	}
	return yaml.Marshal(ordered)
}

// datasetInfoJSON registers the staged dataset file under the version id
// so the train config can reference it by name. The file lives one
// directory above the per-job info file.
func datasetInfoJSON(versionID string) ([]byte, error) {
	info := map[string]map[string]string{
		versionID: {"file_name": "../" + versionID + ".json"},
	}
	return json.MarshalIndent(info, "", "  ")
}

// deepspeedJSON extracts the raw DeepSpeed config from its argument
// group, or returns nil when the job carries none.
func deepspeedJSON(job *models.FinetuneJob) ([]byte, error) {
	config := job.ConfigByType(models.ConfigTypeDeepspeedArguments)
	if config == nil {
		return nil, nil
	}
	args, err := config.DecodeArgs()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(args, "", "  ")
}
