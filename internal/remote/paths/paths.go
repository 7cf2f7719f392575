// Package paths builds the deterministic artifact layout shared by the
// control plane and the remote hosts.
package paths

import (
	"path"
	"path/filepath"
)

// Layout computes remote paths under the staging root and local paths
// under the artifact store.
type Layout struct {
	RemoteRoot        string
	LocalDir          string
	DatasetVersionDir string
}

// Remote job paths

func (l Layout) JobDir(jobID string) string {
	return path.Join(l.RemoteRoot, "jobs", jobID)
}

func (l Layout) JobRunLog(jobID string) string {
	return path.Join(l.JobDir(jobID), "run.log")
}

func (l Layout) JobTrainConfig(jobID string) string {
	return path.Join(l.JobDir(jobID), "config.yaml")
}

func (l Layout) JobDeepspeedConfig(jobID string) string {
	return path.Join(l.JobDir(jobID), "deepspeed.json")
}

func (l Layout) JobOutputDir(jobID string) string {
	return path.Join(l.JobDir(jobID), "output")
}

func (l Layout) JobModelTar(jobID string) string {
	return path.Join(l.JobDir(jobID), "lora_model.tar.gz")
}

// Remote dataset paths

func (l Layout) DatasetFile(versionID string) string {
	return path.Join(l.RemoteRoot, "datasets", versionID+".json")
}

func (l Layout) DatasetInfoFile(jobID string) string {
	return path.Join(l.RemoteRoot, "datasets", jobID, "dataset_info.json")
}

// Remote deploy paths

func (l Layout) DeployDir(clusterID string) string {
	return path.Join(l.RemoteRoot, "deploys", clusterID)
}

func (l Layout) DeployRunLog(clusterID string) string {
	return path.Join(l.DeployDir(clusterID), "run.log")
}

func (l Layout) LoraDir(clusterID, loraID string) string {
	return path.Join(l.DeployDir(clusterID), "loras", loraID)
}

func (l Layout) LoraTar(clusterID, loraID string) string {
	return path.Join(l.LoraDir(clusterID, loraID), "lora_model.tar.gz")
}

// LoraModelPath is the directory handed to the runtime adapter loader
// after the tarball is unpacked.
func (l Layout) LoraModelPath(clusterID, loraID string) string {
	return path.Join(l.LoraDir(clusterID, loraID), "output")
}

// Local artifact paths

func (l Layout) LocalNodeRunLog(jobID, machineID string) string {
	return filepath.Join(l.LocalDir, jobID, machineID, "run.log")
}

func (l Layout) LocalModelTar(jobID string) string {
	return filepath.Join(l.LocalDir, jobID, "lora_model.tar.gz")
}

// LocalDatasetVersion is the materialized JSONL file of a version
func (l Layout) LocalDatasetVersion(versionID string) string {
	return filepath.Join(l.DatasetVersionDir, versionID+".jsonl")
}

// LocalDatasetJSON is the jq-converted JSON form staged for upload,
// cached beside the JSONL so conversion runs once per version.
func (l Layout) LocalDatasetJSON(versionID string) string {
	return filepath.Join(l.DatasetVersionDir, versionID+".json")
}
