package finetune

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/forge/internal/common"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote/paths"
)

// --- fakes ---

type memFinetuneJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.FinetuneJob
}

func newMemFinetuneJobs() *memFinetuneJobs {
	return &memFinetuneJobs{jobs: make(map[string]*models.FinetuneJob)}
}

func (s *memFinetuneJobs) SaveFinetuneJob(ctx context.Context, job *models.FinetuneJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memFinetuneJobs) GetFinetuneJob(ctx context.Context, jobID string) (*models.FinetuneJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memFinetuneJobs) ListFinetuneJobsByStatus(ctx context.Context, status models.FinetuneJobStatus) ([]*models.FinetuneJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FinetuneJob
	for _, job := range s.jobs {
		if job.Status == status {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memFinetuneJobs) UpdateFinetuneJob(ctx context.Context, jobID string, mutate func(*models.FinetuneJob) error) (*models.FinetuneJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	copied := *job
	return &copied, nil
}

type memReleases struct {
	mu       sync.Mutex
	releases map[string]*models.Release
}

func newMemReleases() *memReleases {
	return &memReleases{releases: make(map[string]*models.Release)}
}

func (s *memReleases) SaveRelease(ctx context.Context, release *models.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases[release.ID] = release
	return nil
}

func (s *memReleases) GetRelease(ctx context.Context, groupID, releaseID string) (*models.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, ok := s.releases[releaseID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return release, nil
}

func (s *memReleases) ListReleases(ctx context.Context, groupID string) ([]*models.Release, error) {
	return nil, nil
}

func (s *memReleases) CountReleasesByJob(ctx context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, release := range s.releases {
		if release.FinetuneJobID == jobID {
			count++
		}
	}
	return count, nil
}

type stubStager struct{ path string }

func (s *stubStager) StageJSON(versionID string) (string, error) { return s.path, nil }

// scriptedMachine fulfils the gateway contract with canned responses
type scriptedMachine struct {
	mu       sync.Mutex
	commands []string
	statusFn func() (interfaces.ServiceState, string, error)
	execErr  error
}

func (m *scriptedMachine) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *scriptedMachine) TestConnection(ctx context.Context) error { return nil }

func (m *scriptedMachine) ExecuteCommand(ctx context.Context, cmd string, timeout time.Duration) (*interfaces.ExecResult, error) {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	m.mu.Unlock()
	if m.execErr != nil {
		return nil, m.execErr
	}
	return &interfaces.ExecResult{ExitCode: 0}, nil
}

func (m *scriptedMachine) TailLog(ctx context.Context, path string) (<-chan string, func(), error) {
	return nil, nil, errors.New("not scripted")
}

func (m *scriptedMachine) GetLargeFile(ctx context.Context, path string, chunkSize int, timeout time.Duration) (<-chan []byte, func(), error) {
	return nil, nil, errors.New("not scripted")
}

func (m *scriptedMachine) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return nil
}

func (m *scriptedMachine) UploadFileWithDirs(ctx context.Context, localPath, remotePath string, overwrite bool) error {
	return nil
}

func (m *scriptedMachine) FindAvailablePort(ctx context.Context, start, end int) (int, error) {
	return start, nil
}

func (m *scriptedMachine) AddCrontabEntry(ctx context.Context, line, comment string) error { return nil }
func (m *scriptedMachine) AddRebootTask(ctx context.Context, command, name string) error   { return nil }
func (m *scriptedMachine) RemoveRebootTaskByName(ctx context.Context, name string) error   { return nil }

func (m *scriptedMachine) MonitorServiceStatus(ctx context.Context, name string) (interfaces.ServiceState, string, error) {
	if m.statusFn != nil {
		return m.statusFn()
	}
	return interfaces.ServiceStateStarting, "", nil
}

func (m *scriptedMachine) Close() error { return nil }

// scriptedFleet hands out one scripted machine per host address
type scriptedFleet struct {
	mu       sync.Mutex
	machines map[string]*scriptedMachine
	statusFn func(ip string) (interfaces.ServiceState, string, error)
}

func newScriptedFleet() *scriptedFleet {
	return &scriptedFleet{machines: make(map[string]*scriptedMachine)}
}

func (f *scriptedFleet) connector() interfaces.MachineConnector {
	return func(machine *models.Machine) interfaces.RemoteMachine {
		f.mu.Lock()
		defer f.mu.Unlock()
		if have, ok := f.machines[machine.IP]; ok {
			return have
		}
		ip := machine.IP
		scripted := &scriptedMachine{}
		if f.statusFn != nil {
			scripted.statusFn = func() (interfaces.ServiceState, string, error) { return f.statusFn(ip) }
		}
		f.machines[ip] = scripted
		return scripted
	}
}

func testMachine(ip string, gpus int) *models.Machine {
	return &models.Machine{
		BaseEntity: models.NewBaseEntity("u1", "g1"),
		IP:         ip,
		InternalIP: "10.0.0." + ip[len(ip)-1:],
		SSHPort:    22,
		SSHUser:    "root",
		GPUCount:   gpus,
	}
}

func testLayout() paths.Layout {
	return paths.Layout{RemoteRoot: "/dataset_finetune", LocalDir: "/tmp/forge-test", DatasetVersionDir: "/tmp/forge-test"}
}

func testService(t *testing.T, jobs *memFinetuneJobs, releases *memReleases, fleet *scriptedFleet) *Service {
	t.Helper()
	return NewService(jobs, releases, &stubStager{path: "/tmp/ds.json"}, fleet.connector(), paths.Layout{
		RemoteRoot:        "/dataset_finetune",
		LocalDir:          t.TempDir(),
		DatasetVersionDir: t.TempDir(),
	}, Options{WatchInterval: 10 * time.Millisecond, MaxConnectFailures: 3}, common.GetLogger())
}

func sftConfigs(withDeepspeed bool) []*models.FinetuneConfig {
	configs := []*models.FinetuneConfig{
		{
			BaseEntity: models.NewBaseEntity("u1", "g1"),
			Type:       models.ConfigTypeModelArguments,
			Args:       `{"model_name_or_path": "Qwen/Qwen2.5-7B-Instruct"}`,
		},
		{
			BaseEntity: models.NewBaseEntity("u1", "g1"),
			Type:       models.ConfigTypeFinetuningArguments,
			Args:       `{"finetuning_type": "lora", "lora_rank": 8}`,
		},
	}
	if withDeepspeed {
		configs = append(configs, &models.FinetuneConfig{
			BaseEntity: models.NewBaseEntity("u1", "g1"),
			Type:       models.ConfigTypeDeepspeedArguments,
			Args:       `{"zero_optimization": {"stage": 2}}`,
		})
	}
	return configs
}

func testVersion() *models.DatasetVersion {
	return &models.DatasetVersion{
		BaseEntity:  models.NewBaseEntity("u1", "g1"),
		ProjectID:   "p1",
		Name:        "v1",
		DatasetType: models.DatasetTypeSFT,
	}
}

func seedStartingJob(t *testing.T, jobs *memFinetuneJobs, machines ...*models.Machine) *models.FinetuneJob {
	t.Helper()
	job := &models.FinetuneJob{
		BaseEntity:         models.NewBaseEntity("u1", "g1"),
		Name:               "train",
		Status:             models.FinetuneStatusStarting,
		Stage:              models.DatasetTypeSFT,
		FinetuneMethod:     "lora",
		DatasetVersion:     testVersion(),
		FinetuneConfigList: sftConfigs(len(machines) > 1),
		NodeMachineList:    machines,
		Locale:             "en",
	}
	require.NoError(t, jobs.SaveFinetuneJob(context.Background(), job))
	return job
}

func waitForJobStatus(t *testing.T, jobs *memFinetuneJobs, jobID string, want models.FinetuneJobStatus) *models.FinetuneJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetFinetuneJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

// --- tests ---

func TestTrainCommand_Topologies(t *testing.T) {
	layout := testLayout()

	tests := []struct {
		name     string
		machines []*models.Machine
		rank     int
		want     string
	}{
		{
			name:     "single machine single gpu",
			machines: []*models.Machine{testMachine("1.2.3.4", 1)},
			want:     "llamafactory-cli train %s",
		},
		{
			name:     "single machine multi gpu",
			machines: []*models.Machine{testMachine("1.2.3.4", 4)},
			want:     "FORCE_TORCHRUN=1 llamafactory-cli train %s",
		},
		{
			name: "multi machine master",
			machines: []*models.Machine{
				testMachine("1.2.3.4", 4),
				testMachine("1.2.3.5", 4),
			},
			rank: 0,
			want: "FORCE_TORCHRUN=1 NNODES=2 NODE_RANK=0 MASTER_ADDR=10.0.0.4 MASTER_PORT=29500 llamafactory-cli train %s",
		},
		{
			name: "multi machine worker",
			machines: []*models.Machine{
				testMachine("1.2.3.4", 4),
				testMachine("1.2.3.5", 4),
			},
			rank: 1,
			want: "FORCE_TORCHRUN=1 NNODES=2 NODE_RANK=1 MASTER_ADDR=10.0.0.4 MASTER_PORT=29500 llamafactory-cli train %s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &models.FinetuneJob{
				BaseEntity:      models.NewBaseEntity("u1", "g1"),
				NodeMachineList: tt.machines,
			}
			want := fmt.Sprintf(tt.want, layout.JobTrainConfig(job.ID))
			assert.Equal(t, want, trainCommand(job, tt.rank, layout))
		})
	}
}

func TestRenderUnit_Shape(t *testing.T) {
	layout := testLayout()
	job := &models.FinetuneJob{
		BaseEntity:      models.NewBaseEntity("u1", "g1"),
		NodeMachineList: []*models.Machine{testMachine("1.2.3.4", 1)},
	}

	unit := renderUnit(job, 0, layout)
	assert.Contains(t, unit, "Type=simple")
	assert.Contains(t, unit, "Restart=no")
	assert.Contains(t, unit, "Environment=USE_MODELSCOPE_HUB=true")
	assert.Contains(t, unit, "StandardOutput=append:"+layout.JobRunLog(job.ID))
	assert.Contains(t, unit, "llamafactory-cli train")
}

func TestTrainYAML_MergesAndOverlays(t *testing.T) {
	layout := testLayout()
	job := &models.FinetuneJob{
		BaseEntity:         models.NewBaseEntity("u1", "g1"),
		Stage:              models.DatasetTypeSFT,
		FinetuneMethod:     "lora",
		DatasetVersion:     testVersion(),
		FinetuneConfigList: sftConfigs(true),
	}

	data, err := trainYAML(job, layout, true)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "stage: sft")
	assert.Contains(t, text, "model_name_or_path: Qwen/Qwen2.5-7B-Instruct")
	assert.Contains(t, text, "dataset: "+job.DatasetVersion.ID)
	assert.Contains(t, text, "output_dir: "+layout.JobOutputDir(job.ID))
	assert.Contains(t, text, "deepspeed: "+layout.JobDeepspeedConfig(job.ID))
	// the deepspeed argument group feeds the json file, not the yaml
	assert.NotContains(t, text, "zero_optimization")
}

func TestCreate_RejectsNonSFTStage(t *testing.T) {
	jobs := newMemFinetuneJobs()
	service := testService(t, jobs, newMemReleases(), newScriptedFleet())

	_, err := service.Create(context.Background(), CreateInput{
		UserID:         "u1",
		GroupID:        "g1",
		Stage:          models.DatasetTypeDPO,
		DatasetVersion: testVersion(),
		Configs:        sftConfigs(false),
		Machines:       []*models.Machine{testMachine("1.2.3.4", 1)},
		Locale:         "en",
	})
	require.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "SFT")
}

func TestCreate_RequiresDeepspeedForMultiGPU(t *testing.T) {
	jobs := newMemFinetuneJobs()
	service := testService(t, jobs, newMemReleases(), newScriptedFleet())

	base := CreateInput{
		UserID:         "u1",
		GroupID:        "g1",
		Stage:          models.DatasetTypeSFT,
		DatasetVersion: testVersion(),
		Configs:        sftConfigs(false),
		Locale:         "en",
	}

	multiGPU := base
	multiGPU.Machines = []*models.Machine{testMachine("1.2.3.4", 4)}
	_, err := service.Create(context.Background(), multiGPU)
	assert.True(t, models.IsValidation(err))

	multiNode := base
	multiNode.Machines = []*models.Machine{testMachine("1.2.3.4", 1), testMachine("1.2.3.5", 1)}
	_, err = service.Create(context.Background(), multiNode)
	assert.True(t, models.IsValidation(err))

	// a single-GPU single machine needs none
	single := base
	single.Machines = []*models.Machine{testMachine("1.2.3.4", 1)}
	job, err := service.Create(context.Background(), single)
	require.NoError(t, err)
	assert.Equal(t, models.FinetuneStatusInitializing, job.Status)
	service.Wait()
}

func TestCreate_SnapshotsInputs(t *testing.T) {
	jobs := newMemFinetuneJobs()
	service := testService(t, jobs, newMemReleases(), newScriptedFleet())

	machine := testMachine("1.2.3.4", 1)
	job, err := service.Create(context.Background(), CreateInput{
		UserID:         "u1",
		GroupID:        "g1",
		Stage:          models.DatasetTypeSFT,
		DatasetVersion: testVersion(),
		Configs:        sftConfigs(false),
		Machines:       []*models.Machine{machine},
		Locale:         "en",
	})
	require.NoError(t, err)
	service.Wait()

	machine.IP = "9.9.9.9"
	assert.Equal(t, "1.2.3.4", job.Master().IP)
}

func TestWatch_AllNodesDoneProducesOneRelease(t *testing.T) {
	jobs := newMemFinetuneJobs()
	releases := newMemReleases()
	fleet := newScriptedFleet()
	fleet.statusFn = func(ip string) (interfaces.ServiceState, string, error) {
		return interfaces.ServiceStateSuccess, "Active: inactive (dead)", nil
	}
	service := testService(t, jobs, releases, fleet)

	job := seedStartingJob(t, jobs,
		testMachine("1.2.3.4", 4),
		testMachine("1.2.3.5", 4),
		testMachine("1.2.3.6", 4),
	)

	service.spawnWatchers(job)
	final := waitForJobStatus(t, jobs, job.ID, models.FinetuneStatusSuccess)
	service.Wait()

	assert.Equal(t, 3, final.DoneNodeNum)

	count, err := releases.CountReleasesByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := jobs.GetFinetuneJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ReleaseID)

	release, err := releases.GetRelease(context.Background(), "g1", stored.ReleaseID)
	require.NoError(t, err)
	assert.Equal(t, "Qwen/Qwen2.5-7B-Instruct", release.BaseModel)
	assert.Equal(t, "lora", release.FinetuneMethod)

	// the master packed its output exactly once
	master := fleet.machines["1.2.3.4"]
	tarCount := 0
	for _, cmd := range master.recorded() {
		if strings.HasPrefix(cmd, "tar -czvf") {
			tarCount++
		}
	}
	assert.Equal(t, 1, tarCount)
}

func TestWatch_NodeFailureMarksJobFailed(t *testing.T) {
	jobs := newMemFinetuneJobs()
	fleet := newScriptedFleet()
	fleet.statusFn = func(ip string) (interfaces.ServiceState, string, error) {
		if ip == "1.2.3.5" {
			return interfaces.ServiceStateFailed, "Active: failed", nil
		}
		return interfaces.ServiceStateStarting, "Active: active (running)", nil
	}
	service := testService(t, jobs, newMemReleases(), fleet)

	job := seedStartingJob(t, jobs, testMachine("1.2.3.4", 4), testMachine("1.2.3.5", 4))
	service.spawnWatchers(job)

	final := waitForJobStatus(t, jobs, job.ID, models.FinetuneStatusFailed)
	assert.Contains(t, final.ErrorInfo, "Active: failed")
	service.Wait()
}

func TestWatch_SuccessfulNodeCountedAfterSiblingFailure(t *testing.T) {
	jobs := newMemFinetuneJobs()
	releases := newMemReleases()
	fleet := newScriptedFleet()

	var jobID string
	fleet.statusFn = func(ip string) (interfaces.ServiceState, string, error) {
		if ip == "1.2.3.4" {
			return interfaces.ServiceStateFailed, "Active: failed", nil
		}
		// the worker finishes only after the master's failure has landed
		stored, err := jobs.GetFinetuneJob(context.Background(), jobID)
		if err == nil && stored.Status == models.FinetuneStatusFailed {
			return interfaces.ServiceStateSuccess, "Active: inactive (dead)", nil
		}
		return interfaces.ServiceStateStarting, "Active: active (running)", nil
	}
	service := testService(t, jobs, releases, fleet)

	job := seedStartingJob(t, jobs, testMachine("1.2.3.4", 4), testMachine("1.2.3.5", 4))
	jobID = job.ID
	service.spawnWatchers(job)
	service.Wait()

	final, err := jobs.GetFinetuneJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinetuneStatusFailed, final.Status)
	assert.Equal(t, 1, final.DoneNodeNum, "worker that finished successfully must still be counted")

	// a late node completion never finalizes a failed job
	count, err := releases.CountReleasesByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// the worker downloaded its run log and removed its unit
	worker := fleet.machines["1.2.3.5"]
	assert.Contains(t, strings.Join(worker.recorded(), "\n"), "systemctl stop")
}

func TestWatch_RepeatedProbeFailuresMarkError(t *testing.T) {
	jobs := newMemFinetuneJobs()
	fleet := newScriptedFleet()
	fleet.statusFn = func(ip string) (interfaces.ServiceState, string, error) {
		return interfaces.ServiceStateError, "", errors.New("dial tcp: connection refused")
	}
	service := testService(t, jobs, newMemReleases(), fleet)

	job := seedStartingJob(t, jobs, testMachine("1.2.3.4", 1))
	service.spawnWatchers(job)

	final := waitForJobStatus(t, jobs, job.ID, models.FinetuneStatusError)
	assert.Contains(t, final.ErrorInfo, "more than 3 times")
	service.Wait()
}

func TestRecover_RespawnsWatchersAndFailsInterruptedInit(t *testing.T) {
	jobs := newMemFinetuneJobs()
	fleet := newScriptedFleet()
	fleet.statusFn = func(ip string) (interfaces.ServiceState, string, error) {
		return interfaces.ServiceStateSuccess, "Active: inactive (dead)", nil
	}
	service := testService(t, jobs, newMemReleases(), fleet)

	running := seedStartingJob(t, jobs, testMachine("1.2.3.4", 1))

	interrupted := &models.FinetuneJob{
		BaseEntity:      models.NewBaseEntity("u1", "g1"),
		Status:          models.FinetuneStatusInitializing,
		Stage:           models.DatasetTypeSFT,
		DatasetVersion:  testVersion(),
		NodeMachineList: []*models.Machine{testMachine("1.2.3.5", 1)},
		Locale:          "en",
	}
	require.NoError(t, jobs.SaveFinetuneJob(context.Background(), interrupted))

	require.NoError(t, service.Recover(context.Background()))

	waitForJobStatus(t, jobs, running.ID, models.FinetuneStatusSuccess)
	failed := waitForJobStatus(t, jobs, interrupted.ID, models.FinetuneStatusError)
	assert.Contains(t, failed.ErrorInfo, "interrupted")
	service.Wait()
}

func TestCancel_StopsRunningJob(t *testing.T) {
	jobs := newMemFinetuneJobs()
	fleet := newScriptedFleet()
	service := testService(t, jobs, newMemReleases(), fleet)

	job := seedStartingJob(t, jobs, testMachine("1.2.3.4", 1))
	require.NoError(t, service.Cancel(context.Background(), job.ID))

	stored, err := jobs.GetFinetuneJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinetuneStatusCancel, stored.Status)
	assert.NotZero(t, stored.EndAt)

	// terminal jobs cannot be cancelled twice
	err = service.Cancel(context.Background(), job.ID)
	assert.True(t, models.IsValidation(err))
}
