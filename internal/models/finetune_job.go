package models

// FinetuneJobStatus is the orchestration state of a training job.
// Cancel, Success, Failed and Error are terminal and sticky.
type FinetuneJobStatus string

const (
	FinetuneStatusInitializing FinetuneJobStatus = "Initializing"
	FinetuneStatusInit         FinetuneJobStatus = "Init"
	FinetuneStatusStarting     FinetuneJobStatus = "Starting"
	FinetuneStatusCancel       FinetuneJobStatus = "Cancel"
	FinetuneStatusSuccess      FinetuneJobStatus = "Success"
	FinetuneStatusFailed       FinetuneJobStatus = "Failed"
	FinetuneStatusError        FinetuneJobStatus = "Error"
)

// FinetuneJob is a multi-node training job. DatasetVersion, the config
// list and the machine list are deep-copied snapshots taken at creation
// so the job stays runnable after the source rows are edited or deleted.
type FinetuneJob struct {
	BaseEntity
	Name               string            `json:"name"`
	Status             FinetuneJobStatus `json:"status"`
	Stage              DatasetType       `json:"stage"`
	FinetuneMethod     string            `json:"finetune_method"`
	DatasetVersion     *DatasetVersion   `json:"dataset_version"`
	FinetuneConfigList []*FinetuneConfig `json:"finetune_config_list"`
	NodeMachineList    []*Machine        `json:"node_machine_list"`
	ErrorInfo          string            `json:"error_info"`
	DoneNodeNum        int               `json:"done_node_num"`
	ReleaseID          string            `json:"release_id"`
	Locale             string            `json:"locale"`
	StartAt            int64             `json:"start_at"`
	EndAt              int64             `json:"end_at"`
}

// IsTerminal reports whether the job reached a sticky state
func (j *FinetuneJob) IsTerminal() bool {
	switch j.Status {
	case FinetuneStatusCancel, FinetuneStatusSuccess, FinetuneStatusFailed, FinetuneStatusError:
		return true
	}
	return false
}

// Master returns the first node, which hosts the rank-0 process and the
// training output.
func (j *FinetuneJob) Master() *Machine {
	if len(j.NodeMachineList) == 0 {
		return nil
	}
	return j.NodeMachineList[0]
}

// NodeCount returns the number of training machines
func (j *FinetuneJob) NodeCount() int {
	return len(j.NodeMachineList)
}

// ConfigByType returns the first embedded config of the given type
func (j *FinetuneJob) ConfigByType(t FinetuneConfigType) *FinetuneConfig {
	for _, c := range j.FinetuneConfigList {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// Release is the immutable published artifact of a successful job
type Release struct {
	BaseEntity
	Name              string      `json:"name"`
	Stage             DatasetType `json:"stage"`
	FinetuneJobID     string      `json:"finetune_job_id"`
	FinetuneModelPath string      `json:"finetune_model_path"`
	BaseModel         string      `json:"base_model"`
	FinetuneMethod    string      `json:"finetune_method"`
}
