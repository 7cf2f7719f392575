package models

// Machine is a remote GPU host reachable over SSH. InternalIP is the
// address machines use to reach each other; IP is the address the
// control plane dials.
type Machine struct {
	BaseEntity
	Name          string `json:"name"`
	IP            string `json:"ip"`
	InternalIP    string `json:"internal_ip"`
	SSHPort       int    `json:"ssh_port"`
	SSHUser       string `json:"ssh_user"`
	SSHPassword   string `json:"ssh_password,omitempty"`
	SSHPrivateKey string `json:"ssh_private_key,omitempty"`
	GPUCount      int    `json:"gpu_count"`
}

// Clone returns a deep copy, used when embedding machine snapshots into
// jobs so the job stays runnable after the machine row changes.
func (m *Machine) Clone() *Machine {
	clone := *m
	return &clone
}
