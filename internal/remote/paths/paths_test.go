package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayout_RemotePaths(t *testing.T) {
	l := Layout{RemoteRoot: "/dataset_finetune"}

	assert.Equal(t, "/dataset_finetune/jobs/job-123/run.log", l.JobRunLog("job-123"))
	assert.Equal(t, "/dataset_finetune/jobs/job-123/config.yaml", l.JobTrainConfig("job-123"))
	assert.Equal(t, "/dataset_finetune/jobs/job-123/deepspeed.json", l.JobDeepspeedConfig("job-123"))
	assert.Equal(t, "/dataset_finetune/jobs/job-123/output", l.JobOutputDir("job-123"))
	assert.Equal(t, "/dataset_finetune/jobs/job-123/lora_model.tar.gz", l.JobModelTar("job-123"))

	assert.Equal(t, "/dataset_finetune/datasets/dv1.json", l.DatasetFile("dv1"))
	assert.Equal(t, "/dataset_finetune/datasets/job-123/dataset_info.json", l.DatasetInfoFile("job-123"))

	assert.Equal(t, "/dataset_finetune/deploys/c1/run.log", l.DeployRunLog("c1"))
	assert.Equal(t, "/dataset_finetune/deploys/c1/loras/l1/lora_model.tar.gz", l.LoraTar("c1", "l1"))
	assert.Equal(t, "/dataset_finetune/deploys/c1/loras/l1/output", l.LoraModelPath("c1", "l1"))
}

func TestLayout_LocalPaths(t *testing.T) {
	l := Layout{LocalDir: "/var/lib/forge", DatasetVersionDir: "/var/lib/forge/versions"}

	assert.Equal(t, filepath.Join("/var/lib/forge", "job-123", "m1", "run.log"), l.LocalNodeRunLog("job-123", "m1"))
	assert.Equal(t, filepath.Join("/var/lib/forge", "job-123", "lora_model.tar.gz"), l.LocalModelTar("job-123"))
	assert.Equal(t, filepath.Join("/var/lib/forge/versions", "dv1.jsonl"), l.LocalDatasetVersion("dv1"))
	assert.Equal(t, filepath.Join("/var/lib/forge/versions", "dv1.json"), l.LocalDatasetJSON("dv1"))
}
