// Package deploy drives ray/vLLM inference clusters: install and
// uninstall across the machine set, hot LoRA adapter loading, streaming
// completions, and periodic status reconciliation.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote/paths"
)

const (
	rayCommandTimeout  = 180 * time.Second
	unitCommandTimeout = 180 * time.Second
	adapterHTTPTimeout = 60 * time.Second
)

// Service is the cluster controller
type Service struct {
	clusters interfaces.DeployClusterStorage
	machines interfaces.MachineStorage
	releases interfaces.ReleaseStorage
	connect  interfaces.MachineConnector
	layout   paths.Layout
	logger   arbor.ILogger

	rayPort  int
	vllmPort int
	locale   string

	httpClient *http.Client
	// endpoint builds the vLLM base URL for a master address; tests
	// point it at a local server.
	endpoint func(masterIP string) string

	wg sync.WaitGroup
}

type Options struct {
	RayPort  int
	VLLMPort int
	Locale   string
}

func NewService(clusters interfaces.DeployClusterStorage, machines interfaces.MachineStorage, releases interfaces.ReleaseStorage, connect interfaces.MachineConnector, layout paths.Layout, opts Options, logger arbor.ILogger) *Service {
	if opts.RayPort <= 0 {
		opts.RayPort = 26379
	}
	if opts.VLLMPort <= 0 {
		opts.VLLMPort = 8000
	}
	if opts.Locale == "" {
		opts.Locale = i18n.LocaleEN
	}
	s := &Service{
		clusters:   clusters,
		machines:   machines,
		releases:   releases,
		connect:    connect,
		layout:     layout,
		logger:     logger.WithPrefix("deploy"),
		rayPort:    opts.RayPort,
		vllmPort:   opts.VLLMPort,
		locale:     opts.Locale,
		httpClient: &http.Client{Timeout: adapterHTTPTimeout},
	}
	s.endpoint = func(masterIP string) string {
		return fmt.Sprintf("http://%s:%d", masterIP, s.vllmPort)
	}
	return s
}

// CreateClusterInput is the caller-facing shape of a cluster request
type CreateClusterInput struct {
	UserID         string
	GroupID        string
	Name           string
	MachineIDList  []string
	BaseModel      string
	FinetuneMethod string
}

// CreateCluster validates the machine set and persists the cluster in
// Init.
func (s *Service) CreateCluster(ctx context.Context, in CreateClusterInput) (*models.DeployCluster, error) {
	if len(in.MachineIDList) == 0 {
		return nil, models.NewValidationError("at least one machine is required")
	}
	if in.BaseModel == "" {
		return nil, models.NewValidationError("base model is required")
	}
	for _, machineID := range in.MachineIDList {
		if _, err := s.machines.GetMachine(ctx, in.GroupID, machineID); err != nil {
			return nil, fmt.Errorf("machine %s: %w", machineID, err)
		}
	}

	cluster := &models.DeployCluster{
		BaseEntity:     models.NewBaseEntity(in.UserID, in.GroupID),
		Name:           in.Name,
		MachineIDList:  in.MachineIDList,
		Status:         models.DeployStatusInit,
		BaseModel:      in.BaseModel,
		FinetuneMethod: in.FinetuneMethod,
	}
	cluster.ResetRayStatus(models.DeployStatusInit)
	if err := s.clusters.SaveDeployCluster(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// UpdateClusterInput carries a partial cluster edit. Empty fields are
// left unchanged; a nil MachineIDList keeps the current machine set.
type UpdateClusterInput struct {
	ClusterID      string
	Name           string
	MachineIDList  []string
	BaseModel      string
	FinetuneMethod string
}

// UpdateCluster edits a cluster. The machine set, base model and
// fine-tune method are only editable while the cluster is still in
// Init; changing the machine set rebuilds the ray status list. After
// install only the name can change.
func (s *Service) UpdateCluster(ctx context.Context, in UpdateClusterInput) (*models.DeployCluster, error) {
	cluster, err := s.clusters.GetDeployCluster(ctx, in.ClusterID)
	if err != nil {
		return nil, err
	}
	for _, machineID := range in.MachineIDList {
		if _, err := s.machines.GetMachine(ctx, cluster.GroupID, machineID); err != nil {
			return nil, fmt.Errorf("machine %s: %w", machineID, err)
		}
	}

	return s.clusters.UpdateDeployCluster(ctx, in.ClusterID, func(c *models.DeployCluster) error {
		deploymentEdit := len(in.MachineIDList) > 0 || in.BaseModel != "" || in.FinetuneMethod != ""
		if c.Status != models.DeployStatusInit && deploymentEdit {
			return models.NewValidationError("cluster %s is %s, only the name can change", in.ClusterID, c.Status)
		}
		if len(in.MachineIDList) > 0 {
			c.MachineIDList = in.MachineIDList
			c.ResetRayStatus(models.DeployStatusInit)
		}
		if in.BaseModel != "" {
			c.BaseModel = in.BaseModel
		}
		if in.FinetuneMethod != "" {
			c.FinetuneMethod = in.FinetuneMethod
		}
		if in.Name != "" {
			c.Name = in.Name
		}
		return nil
	})
}

// Install flips the cluster to Deploying and brings the ray/vLLM stack
// up asynchronously.
func (s *Service) Install(ctx context.Context, clusterID string) error {
	if _, err := s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		if c.Status != models.DeployStatusInit && c.Status != models.DeployStatusUninstalled {
			return models.NewValidationError("cluster %s is %s, not installable", clusterID, c.Status)
		}
		c.Status = models.DeployStatusDeploying
		c.ResetRayStatus(models.DeployStatusDeploying)
		return nil
	}); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.installCluster(context.Background(), clusterID)
	}()
	return nil
}

func (s *Service) installCluster(ctx context.Context, clusterID string) {
	cluster, nodes, err := s.resolveCluster(ctx, clusterID)
	if err != nil {
		s.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Failed to resolve cluster")
		s.failCluster(clusterID, err.Error())
		return
	}

	gpuNum := 0
	for _, node := range nodes {
		gpuNum += node.GPUCount
	}
	master := nodes[0]

	failed := false
	for i, node := range nodes {
		startCmd := rayWorkerCommand(master.InternalIP, s.rayPort)
		if i == 0 {
			startCmd = rayHeadCommand(master.InternalIP, s.rayPort)
		}

		if err := s.startRayNode(ctx, clusterID, node, startCmd); err != nil {
			failed = true
			s.setRayStatus(clusterID, node.ID, models.DeployStatusError, err.Error())
			s.logger.Error().Err(err).Str("cluster_id", clusterID).Str("node", node.IP).Msg("Ray start failed")
			continue
		}
		s.setRayStatus(clusterID, node.ID, models.DeployStatusStarting, "")
	}
	if failed {
		s.failCluster(clusterID, "one or more ray nodes failed to start")
		return
	}

	machine := s.connect(master)
	defer machine.Close()
	install := installVLLMUnitCommand(cluster, gpuNum, len(nodes), s.vllmPort, s.layout)
	for _, cmd := range []string{
		install,
		fmt.Sprintf("systemctl enable %s", clusterUnitName(clusterID)),
		fmt.Sprintf("systemctl start %s", clusterUnitName(clusterID)),
	} {
		result, err := machine.ExecuteCommand(ctx, cmd, unitCommandTimeout)
		if err != nil {
			s.failCluster(clusterID, err.Error())
			return
		}
		if result.ExitCode != 0 {
			s.failCluster(clusterID, fmt.Sprintf("command exited %d: %s", result.ExitCode, result.Stderr))
			return
		}
	}

	s.transition(clusterID, func(c *models.DeployCluster) {
		c.Status = models.DeployStatusStarting
	})
	s.logger.Info().Str("cluster_id", clusterID).Int("nodes", len(nodes)).Int("gpus", gpuNum).Msg("Cluster started")
}

// startRayNode stops any stale ray process, drops the old reboot entry,
// starts ray and registers a fresh reboot entry.
func (s *Service) startRayNode(ctx context.Context, clusterID string, node *models.Machine, startCmd string) error {
	machine := s.connect(node)
	defer machine.Close()

	// stale state from a previous install is torn down first
	if _, err := machine.ExecuteCommand(ctx, "ray stop", rayCommandTimeout); err != nil {
		return err
	}
	if err := machine.RemoveRebootTaskByName(ctx, rebootTaskName(clusterID)); err != nil {
		return err
	}

	result, err := machine.ExecuteCommand(ctx, startCmd, rayCommandTimeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("ray start exited %d: %s", result.ExitCode, result.Stderr)
	}

	return machine.AddRebootTask(ctx, startCmd, rebootTaskName(clusterID))
}

// Uninstall tears the stack down: vLLM first, then ray on every node in
// reverse order so the head goes last.
func (s *Service) Uninstall(ctx context.Context, clusterID string) error {
	cluster, nodes, err := s.resolveCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	switch cluster.Status {
	case models.DeployStatusStarting, models.DeployStatusError:
	default:
		return models.NewValidationError("cluster %s is %s, not uninstallable", clusterID, cluster.Status)
	}

	master := s.connect(nodes[0])
	if _, err := master.ExecuteCommand(ctx, removeVLLMUnitCommand(clusterID), unitCommandTimeout); err != nil {
		s.logger.Warn().Err(err).Str("cluster_id", clusterID).Msg("Failed to remove vllm unit")
	}
	master.Close()

	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		machine := s.connect(node)
		if err := machine.RemoveRebootTaskByName(ctx, rebootTaskName(clusterID)); err != nil {
			s.logger.Warn().Err(err).Str("node", node.IP).Msg("Failed to remove reboot entry")
		}
		status, err := machine.ExecuteCommand(ctx, "ray status", rayCommandTimeout)
		if err == nil && status.ExitCode == 0 {
			if _, err := machine.ExecuteCommand(ctx, "ray stop", rayCommandTimeout); err != nil {
				s.logger.Warn().Err(err).Str("node", node.IP).Msg("Failed to stop ray")
			}
		}
		machine.Close()
	}

	_, err = s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		c.Status = models.DeployStatusUninstalled
		c.ResetRayStatus(models.DeployStatusUninstalled)
		for i := range c.LoraInfoList {
			c.LoraInfoList[i].Status = models.LoraStatusUninstalled
		}
		return nil
	})
	return err
}

// CreateLora attaches a released adapter to the cluster in Init state
func (s *Service) CreateLora(ctx context.Context, groupID, clusterID, releaseID string) (*models.LoraInfo, error) {
	release, err := s.releases.GetRelease(ctx, groupID, releaseID)
	if err != nil {
		return nil, err
	}

	lora := models.LoraInfo{
		ID:        uuid.New().String(),
		ReleaseID: release.ID,
		Path:      release.FinetuneModelPath,
		Stage:     release.Stage,
		Status:    models.LoraStatusInit,
	}
	if _, err := s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		c.LoraInfoList = append(c.LoraInfoList, lora)
		return nil
	}); err != nil {
		return nil, err
	}
	return &lora, nil
}

// InstallLora uploads and hot-loads an adapter on a running cluster
func (s *Service) InstallLora(ctx context.Context, clusterID, loraID string) error {
	if _, err := s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		if c.Status != models.DeployStatusStarting {
			return models.NewValidationError("%s", i18n.T(s.locale, "deploy.not_starting"))
		}
		lora := c.FindLora(loraID)
		if lora == nil {
			return models.ErrNotFound
		}
		lora.Status = models.LoraStatusDeploying
		lora.Error = ""
		return nil
	}); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.installLora(context.Background(), clusterID, loraID)
	}()
	return nil
}

func (s *Service) installLora(ctx context.Context, clusterID, loraID string) {
	cluster, nodes, err := s.resolveCluster(ctx, clusterID)
	if err != nil {
		s.failLora(clusterID, loraID, err.Error())
		return
	}
	lora := cluster.FindLora(loraID)
	if lora == nil {
		return
	}

	remoteTar := s.layout.LoraTar(clusterID, loraID)
	for _, node := range nodes {
		machine := s.connect(node)
		// re-installs reuse the tarball already on the node
		if err := machine.UploadFileWithDirs(ctx, lora.Path, remoteTar, false); err != nil {
			machine.Close()
			s.failLora(clusterID, loraID, fmt.Sprintf("upload to %s: %v", node.IP, err))
			return
		}
		result, err := machine.ExecuteCommand(ctx, untarLoraCommand(clusterID, loraID, s.layout), unitCommandTimeout)
		machine.Close()
		if err != nil {
			s.failLora(clusterID, loraID, fmt.Sprintf("untar on %s: %v", node.IP, err))
			return
		}
		if result.ExitCode != 0 {
			s.failLora(clusterID, loraID, fmt.Sprintf("untar exited %d on %s: %s", result.ExitCode, node.IP, result.Stderr))
			return
		}
	}

	payload := map[string]string{
		"lora_name": loraID,
		"lora_path": s.layout.LoraModelPath(clusterID, loraID),
	}
	if err := s.postAdapter(ctx, nodes[0].IP, "/v1/load_lora_adapter", payload); err != nil {
		s.failLora(clusterID, loraID, err.Error())
		return
	}

	s.transition(clusterID, func(c *models.DeployCluster) {
		if lora := c.FindLora(loraID); lora != nil {
			lora.Status = models.LoraStatusStarting
			lora.Error = ""
		}
	})
	s.logger.Info().Str("cluster_id", clusterID).Str("lora_id", loraID).Msg("Adapter installed")
}

// UninstallLora unloads a running adapter
func (s *Service) UninstallLora(ctx context.Context, clusterID, loraID string) error {
	cluster, nodes, err := s.resolveCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if cluster.Status != models.DeployStatusStarting {
		return models.NewValidationError("%s", i18n.T(s.locale, "deploy.not_starting"))
	}
	if cluster.FindLora(loraID) == nil {
		return models.ErrNotFound
	}

	if err := s.postAdapter(ctx, nodes[0].IP, "/v1/unload_lora_adapter", map[string]string{"lora_name": loraID}); err != nil {
		return err
	}

	_, err = s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		if lora := c.FindLora(loraID); lora != nil {
			lora.Status = models.LoraStatusUninstalled
		}
		return nil
	})
	return err
}

// DeleteLora removes an adapter that is neither deploying nor running
func (s *Service) DeleteLora(ctx context.Context, clusterID, loraID string) error {
	_, err := s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		for i := range c.LoraInfoList {
			if c.LoraInfoList[i].ID != loraID {
				continue
			}
			switch c.LoraInfoList[i].Status {
			case models.LoraStatusDeploying, models.LoraStatusStarting:
				return models.NewValidationError("%s", i18n.T(s.locale, "deploy.lora_busy"))
			}
			c.LoraInfoList = append(c.LoraInfoList[:i], c.LoraInfoList[i+1:]...)
			return nil
		}
		return models.ErrNotFound
	})
	return err
}

// SyncClusterStatus probes every node's ray health and the master's
// vLLM unit, updating statuses in place.
func (s *Service) SyncClusterStatus(ctx context.Context, clusterID string) error {
	_, nodes, err := s.resolveCluster(ctx, clusterID)
	if err != nil {
		return err
	}

	healthy := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		machine := s.connect(node)
		result, err := machine.ExecuteCommand(ctx, "ray status", rayCommandTimeout)
		machine.Close()
		healthy[node.ID] = err == nil && result.ExitCode == 0
	}

	master := s.connect(nodes[0])
	state, _, err := master.MonitorServiceStatus(ctx, clusterID)
	master.Close()
	vllmUp := err == nil && state == interfaces.ServiceStateStarting

	_, err = s.clusters.UpdateDeployCluster(ctx, clusterID, func(c *models.DeployCluster) error {
		allUp := vllmUp
		for i := range c.RayStatusList {
			if healthy[c.RayStatusList[i].MachineID] {
				c.RayStatusList[i].Status = models.DeployStatusStarting
				c.RayStatusList[i].Error = ""
			} else {
				c.RayStatusList[i].Status = models.DeployStatusError
				c.RayStatusList[i].Error = "ray status probe failed"
				allUp = false
			}
		}
		if allUp {
			c.Status = models.DeployStatusStarting
		} else {
			c.Status = models.DeployStatusError
		}
		return nil
	})
	return err
}

// SyncAll reconciles every cluster the scheduler considers live
func (s *Service) SyncAll(ctx context.Context) {
	for _, status := range []models.DeployStatus{models.DeployStatusStarting, models.DeployStatusError} {
		clusters, err := s.clusters.ListDeployClustersByStatus(ctx, status)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list clusters for sync")
			return
		}
		for _, cluster := range clusters {
			if err := s.SyncClusterStatus(ctx, cluster.ID); err != nil {
				s.logger.Warn().Err(err).Str("cluster_id", cluster.ID).Msg("Cluster sync failed")
			}
		}
	}
}

// Wait blocks until background install goroutines have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// postAdapter sends an adapter management call to the master's vLLM
// server, treating any non-2xx as an error.
func (s *Service) postAdapter(ctx context.Context, masterIP, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode adapter request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(masterIP)+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build adapter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adapter call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("adapter call returned %d", resp.StatusCode)
	}
	return nil
}

// resolveCluster loads the cluster and its machine rows in list order
func (s *Service) resolveCluster(ctx context.Context, clusterID string) (*models.DeployCluster, []*models.Machine, error) {
	cluster, err := s.clusters.GetDeployCluster(ctx, clusterID)
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]*models.Machine, 0, len(cluster.MachineIDList))
	for _, machineID := range cluster.MachineIDList {
		machine, err := s.machines.GetMachine(ctx, cluster.GroupID, machineID)
		if err != nil {
			return nil, nil, fmt.Errorf("machine %s: %w", machineID, err)
		}
		nodes = append(nodes, machine)
	}
	if len(nodes) == 0 {
		return nil, nil, models.NewValidationError("cluster %s has no machines", clusterID)
	}
	return cluster, nodes, nil
}

func (s *Service) setRayStatus(clusterID, machineID string, status models.DeployStatus, errInfo string) {
	s.transition(clusterID, func(c *models.DeployCluster) {
		for i := range c.RayStatusList {
			if c.RayStatusList[i].MachineID == machineID {
				c.RayStatusList[i].Status = status
				c.RayStatusList[i].Error = errInfo
			}
		}
	})
}

func (s *Service) failCluster(clusterID, reason string) {
	s.transition(clusterID, func(c *models.DeployCluster) {
		c.Status = models.DeployStatusError
	})
	s.logger.Error().Str("cluster_id", clusterID).Str("reason", reason).Msg("Cluster install failed")
}

func (s *Service) failLora(clusterID, loraID, reason string) {
	s.transition(clusterID, func(c *models.DeployCluster) {
		if lora := c.FindLora(loraID); lora != nil {
			lora.Status = models.LoraStatusError
			lora.Error = reason
		}
	})
	s.logger.Error().Str("cluster_id", clusterID).Str("lora_id", loraID).Str("reason", reason).Msg("Adapter install failed")
}

func (s *Service) transition(clusterID string, apply func(*models.DeployCluster)) {
	if _, err := s.clusters.UpdateDeployCluster(context.Background(), clusterID, func(c *models.DeployCluster) error {
		apply(c)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Failed to update cluster")
	}
}
