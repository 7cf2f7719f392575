package models

// DeployStatus is the lifecycle state of an inference cluster
type DeployStatus string

const (
	DeployStatusInit        DeployStatus = "Init"
	DeployStatusDeploying   DeployStatus = "Deploying"
	DeployStatusStarting    DeployStatus = "Starting"
	DeployStatusUninstalled DeployStatus = "Uninstalled"
	DeployStatusError       DeployStatus = "Error"
)

// LoraStatus is the per-adapter sub-state
type LoraStatus string

const (
	LoraStatusInit        LoraStatus = "Init"
	LoraStatusDeploying   LoraStatus = "Deploying"
	LoraStatusStarting    LoraStatus = "Starting"
	LoraStatusUninstalled LoraStatus = "Uninstalled"
	LoraStatusError       LoraStatus = "Error"
)

// RayStatus records one node's ray health, index-aligned with the
// cluster machine list.
type RayStatus struct {
	MachineID string       `json:"machine_id"`
	Status    DeployStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
}

// LoraInfo is a hot-loadable adapter attached to a cluster
type LoraInfo struct {
	ID        string      `json:"id"`
	ReleaseID string      `json:"release_id"`
	Path      string      `json:"path"`
	Stage     DatasetType `json:"stage"`
	Status    LoraStatus  `json:"status"`
	Error     string      `json:"error,omitempty"`
}

// DeployCluster is a head/worker set running ray with a vLLM server on
// the master. MachineIDList is ordered; the first entry is the master.
type DeployCluster struct {
	BaseEntity
	Name           string       `json:"name"`
	MachineIDList  []string     `json:"machine_id_list"`
	RayStatusList  []RayStatus  `json:"ray_status_list"`
	Status         DeployStatus `json:"status"`
	BaseModel      string       `json:"base_model"`
	FinetuneMethod string       `json:"finetune_method"`
	LoraInfoList   []LoraInfo   `json:"lora_info_list"`
}

// MasterID returns the first machine id
func (c *DeployCluster) MasterID() string {
	if len(c.MachineIDList) == 0 {
		return ""
	}
	return c.MachineIDList[0]
}

// FindLora returns the adapter with the given id, or nil
func (c *DeployCluster) FindLora(loraID string) *LoraInfo {
	for i := range c.LoraInfoList {
		if c.LoraInfoList[i].ID == loraID {
			return &c.LoraInfoList[i]
		}
	}
	return nil
}

// ResetRayStatus rebuilds the ray status list aligned with the machine
// list, all entries in the given status.
func (c *DeployCluster) ResetRayStatus(status DeployStatus) {
	statuses := make([]RayStatus, len(c.MachineIDList))
	for i, id := range c.MachineIDList {
		statuses[i] = RayStatus{MachineID: id, Status: status}
	}
	c.RayStatusList = statuses
}
