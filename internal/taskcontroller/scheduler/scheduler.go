// Package scheduler drives creator-side tasks from submission to a terminal
// status: executor negotiation, param partitioning, resource publishing,
// start fan-out, polling and result reduction.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gridmesh/gridmesh/internal/taskcontroller/store"
	"github.com/gridmesh/gridmesh/pkg/api/executor"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

const (
	// ExecutorsRetryInterval is how long a task waits before looking for
	// willing executors again
	ExecutorsRetryInterval = 30 * time.Second
	// ImagePollInterval paces image push status checks
	ImagePollInterval = 50 * time.Millisecond
	// DatasetPollInterval paces dataset publish checks
	DatasetPollInterval = 100 * time.Millisecond
	// SubtaskPollInterval paces executor subtask polling rounds
	SubtaskPollInterval = 50 * time.Millisecond
	// PublishTimeout bounds how long a dataset publish may take before the
	// task fails
	PublishTimeout = 10 * time.Second
)

// NodeGateway is the node controller surface the scheduler needs: the local
// view plus the exchange call used to gossip with registries
type NodeGateway interface {
	Exchange(ctx context.Context, baseURL string, nodes []models.Node) ([]models.Node, error)
	ActiveNodes(ctx context.Context, baseURL string) ([]models.Node, error)
}

// ExecutorGateway is the remote executor surface the scheduler fans out to
type ExecutorGateway interface {
	Offer(ctx context.Context, baseURL, subtaskUID, creatorUID string) (bool, error)
	Start(ctx context.Context, baseURL string, req executor.StartRequest) (*models.ExecutorSubtask, error)
	Get(ctx context.Context, baseURL, subtaskUID string) (*models.ExecutorSubtask, error)
	Result(ctx context.Context, baseURL, subtaskUID string) (map[string]any, error)
}

// EnvGateway is the local environment controller surface the scheduler needs
type EnvGateway interface {
	PushImage(ctx context.Context, taskType models.TaskType, subtaskType models.SubtaskType) (string, models.ImageStatus, error)
	PushImageStatus(ctx context.Context, imageTag string) (models.ImageStatus, error)
}

// DataGateway is the local data controller surface the scheduler needs
type DataGateway interface {
	Publish(ctx context.Context, path string) (string, error)
	Get(ctx context.Context, datasetUID string) (*models.Dataset, error)
}

// Config wires the scheduler to its collaborators
type Config struct {
	Store             *store.Store
	Nodes             NodeGateway
	Executors         ExecutorGateway
	Env               EnvGateway
	Data              DataGateway
	NodeControllerURL string
	SelfUID           string
	Logger            logging.Logger
}

// Scheduler runs one goroutine per task, persisting every state transition
// before taking the next step
type Scheduler struct {
	store     *store.Store
	nodes     NodeGateway
	executors ExecutorGateway
	env       EnvGateway
	data      DataGateway
	nodeURL   string
	selfUID   string
	logger    logging.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	newUID    func() string
}

// New creates the task scheduler
func New(cfg Config) *Scheduler {
	return &Scheduler{
		store:     cfg.Store,
		nodes:     cfg.Nodes,
		executors: cfg.Executors,
		env:       cfg.Env,
		data:      cfg.Data,
		nodeURL:   cfg.NodeControllerURL,
		selfUID:   cfg.SelfUID,
		logger:    cfg.Logger,
		now:       time.Now,
		sleep:     sleepCtx,
		newUID:    func() string { return uuid.New().String() },
	}
}

// assignment binds one minted subtask uid to the executor that accepted it
type assignment struct {
	subtaskUID string
	executor   models.Node
}

// Schedule drives one submitted task to a terminal status. It is meant to
// run in its own goroutine; all failures are recorded on the task row.
func (s *Scheduler) Schedule(ctx context.Context, taskUID, datasetPath string) {
	log := s.logger.WithField("task_uid", taskUID)

	task, err := s.store.GetTask(ctx, taskUID)
	if err != nil {
		log.WithError(err).Error("Failed to load task for scheduling")
		return
	}

	assignments, err := s.findExecutors(ctx, log, taskUID)
	if err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}

	payloads, err := Partition(task.Params, len(assignments))
	if err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}
	if err := s.createSubtasks(ctx, task, assignments, payloads); err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}

	imageTag, datasetUID, magnetLink, err := s.publishResources(ctx, log, task, datasetPath)
	if err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}

	if err := s.startSubtasks(ctx, taskUID, assignments, payloads, imageTag, datasetUID, magnetLink); err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}

	if err := s.pollSubtasks(ctx, taskUID, assignments); err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}

	best, err := s.collectResults(ctx, task, assignments)
	if err != nil {
		s.fail(ctx, log, taskUID, err)
		return
	}

	if err := s.store.FinishTask(ctx, taskUID, models.TaskStatusSuccess, best, s.now()); err != nil {
		log.WithError(err).Error("Failed to record task success")
		return
	}
	log.Info("Task finished")
}

// findExecutors loops until at least one active executor accepts an offer.
// Unreachable executors are skipped, never retried synchronously.
func (s *Scheduler) findExecutors(ctx context.Context, log *logrus.Entry, taskUID string) ([]assignment, error) {
	if err := s.store.SetTaskStatus(ctx, taskUID, models.TaskStatusExecutorsSearching); err != nil {
		return nil, err
	}

	for {
		s.refreshView(ctx, log)

		nodes, err := s.nodes.ActiveNodes(ctx, s.nodeURL)
		if err != nil {
			return nil, fmt.Errorf("failed to list active nodes: %w", err)
		}

		var candidates []models.Node
		for _, n := range nodes {
			if n.Role == models.NodeRoleExecutor && n.NodeUID != s.selfUID {
				candidates = append(candidates, n)
			}
		}

		if len(candidates) > 0 {
			accepted := s.offerToAll(ctx, log, candidates)
			if len(accepted) > 0 {
				return accepted, nil
			}
		}

		log.Info("No executors accepted the task, retrying")
		if err := s.sleep(ctx, ExecutorsRetryInterval); err != nil {
			return nil, err
		}
	}
}

// refreshView gossips with every active registry and folds each response
// wholesale into the local node controller's view. Gossip is best-effort: an
// unreachable registry is skipped.
func (s *Scheduler) refreshView(ctx context.Context, log *logrus.Entry) {
	known, err := s.nodes.Exchange(ctx, s.nodeURL, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to read local node view")
		return
	}

	var mu sync.Mutex
	var gossiped []models.Node
	var g errgroup.Group
	for _, n := range known {
		if n.Role != models.NodeRoleRegistry || n.Status != models.NodeStatusActive {
			continue
		}
		g.Go(func() error {
			remote, err := s.nodes.Exchange(ctx, n.BaseURL(), known)
			if err != nil {
				log.WithError(err).WithField("registry_uid", n.NodeUID).Warn("Registry exchange failed")
				return nil
			}
			mu.Lock()
			gossiped = append(gossiped, remote...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(gossiped) == 0 {
		return
	}
	if _, err := s.nodes.Exchange(ctx, s.nodeURL, gossiped); err != nil {
		log.WithError(err).Warn("Failed to merge gossip into local view")
	}
}

func (s *Scheduler) offerToAll(ctx context.Context, log *logrus.Entry, candidates []models.Node) []assignment {
	var mu sync.Mutex
	var accepted []assignment

	var g errgroup.Group
	for _, candidate := range candidates {
		g.Go(func() error {
			subtaskUID := s.newUID()
			ok, err := s.executors.Offer(ctx, candidate.BaseURL(), subtaskUID, s.selfUID)
			if err != nil {
				log.WithError(err).WithField("executor_uid", candidate.NodeUID).Warn("Executor unreachable during offer")
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			accepted = append(accepted, assignment{subtaskUID: subtaskUID, executor: candidate})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return accepted
}

// createSubtasks records one row per accepted assignment. Rows stay in
// waiting_executor_assignment until the start fan-out hands them over.
func (s *Scheduler) createSubtasks(ctx context.Context, task *models.Task, assignments []assignment, payloads []map[string]any) error {
	now := s.now()
	for i, a := range assignments {
		executorUID := a.executor.NodeUID
		if err := s.store.CreateSubtask(ctx, models.Subtask{
			SubtaskUID:  a.subtaskUID,
			TaskUID:     task.TaskUID,
			SubtaskType: task.TaskType.SubtaskKind(),
			ExecutorUID: &executorUID,
			Status:      models.SubtaskStatusWaitingExecutorAssignment,
			CreatedAt:   &now,
			Params:      payloads[i],
		}); err != nil {
			return err
		}
	}
	return nil
}

// publishResources kicks off the image push and dataset publish, then
// awaits both concurrently
func (s *Scheduler) publishResources(ctx context.Context, log *logrus.Entry, task *models.Task, datasetPath string) (imageTag, datasetUID, magnetLink string, err error) {
	imageTag, _, err = s.env.PushImage(ctx, task.TaskType, task.TaskType.SubtaskKind())
	if err != nil {
		return "", "", "", fmt.Errorf("failed to request image push: %w", err)
	}
	datasetUID, err = s.data.Publish(ctx, datasetPath)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to request dataset publish: %w", err)
	}
	if err = s.store.SetTaskDataset(ctx, task.TaskUID, datasetUID); err != nil {
		return "", "", "", err
	}
	if err = s.store.SetTaskStatus(ctx, task.TaskUID, models.TaskStatusResourcesPublishing); err != nil {
		return "", "", "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.awaitImagePushed(gctx, imageTag) })
	g.Go(func() error {
		var derr error
		magnetLink, derr = s.awaitDatasetPublished(gctx, datasetUID)
		return derr
	})
	if err = g.Wait(); err != nil {
		return "", "", "", err
	}
	log.WithFields(logging.Fields{
		"image_tag":   imageTag,
		"dataset_uid": datasetUID,
	}).Info("Task resources published")
	return imageTag, datasetUID, magnetLink, nil
}

func (s *Scheduler) awaitImagePushed(ctx context.Context, imageTag string) error {
	for {
		status, err := s.env.PushImageStatus(ctx, imageTag)
		if err != nil {
			return err
		}
		switch status {
		case models.ImageStatusPushed:
			return nil
		case models.ImageStatusBuildingError, models.ImageStatusPushingError:
			return fmt.Errorf("image %s failed with status %s", imageTag, status)
		}
		if err := s.sleep(ctx, ImagePollInterval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) awaitDatasetPublished(ctx context.Context, datasetUID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	for {
		d, err := s.data.Get(ctx, datasetUID)
		if err != nil {
			return "", err
		}
		if d != nil && d.Status == models.DatasetStatusAvailable && d.MagnetLink != nil {
			return *d.MagnetLink, nil
		}
		if err := s.sleep(ctx, DatasetPollInterval); err != nil {
			return "", fmt.Errorf("dataset %s never became available: %w", datasetUID, err)
		}
	}
}

// startSubtasks fans the start call out to every assigned executor and marks
// the creator-side rows running
func (s *Scheduler) startSubtasks(ctx context.Context, taskUID string, assignments []assignment, payloads []map[string]any, imageTag, datasetUID, magnetLink string) error {
	if err := s.store.SetTaskStatus(ctx, taskUID, models.TaskStatusSubtasksSending); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assignments {
		g.Go(func() error {
			_, err := s.executors.Start(gctx, a.executor.BaseURL(), executor.StartRequest{
				SubtaskUID: a.subtaskUID,
				ImageTag:   imageTag,
				DatasetUID: datasetUID,
				MagnetLink: magnetLink,
				Params:     payloads[i],
			})
			if err != nil {
				return fmt.Errorf("failed to start subtask %s: %w", a.subtaskUID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, a := range assignments {
		if err := s.store.SetSubtaskStatus(ctx, a.subtaskUID, models.SubtaskStatusRunning); err != nil {
			return err
		}
	}
	return nil
}

// pollSubtasks rounds over the executors until every subtask has ended,
// persisting each observed transition. Any non-success ending fails the
// task.
func (s *Scheduler) pollSubtasks(ctx context.Context, taskUID string, assignments []assignment) error {
	if err := s.store.SetTaskStatus(ctx, taskUID, models.TaskStatusSubtasksPolling); err != nil {
		return err
	}

	pending := make(map[string]assignment, len(assignments))
	for _, a := range assignments {
		pending[a.subtaskUID] = a
	}

	var failed []string
	for len(pending) > 0 {
		var mu sync.Mutex
		ended := map[string]models.SubtaskStatus{}

		g, gctx := errgroup.WithContext(ctx)
		for _, a := range pending {
			g.Go(func() error {
				st, err := s.executors.Get(gctx, a.executor.BaseURL(), a.subtaskUID)
				if err != nil {
					return fmt.Errorf("failed to poll subtask %s: %w", a.subtaskUID, err)
				}
				status := models.SubtaskStatusFromExecutor(st.Status)
				mu.Lock()
				defer mu.Unlock()
				if status.Terminal() {
					ended[a.subtaskUID] = status
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for subtaskUID, status := range ended {
			if err := s.store.FinishSubtask(ctx, subtaskUID, status, s.now()); err != nil {
				return err
			}
			if status != models.SubtaskStatusSuccess {
				failed = append(failed, subtaskUID)
			}
			delete(pending, subtaskUID)
		}

		if len(pending) > 0 {
			if err := s.sleep(ctx, SubtaskPollInterval); err != nil {
				return err
			}
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d subtask(s) did not succeed", len(failed))
	}
	return nil
}

// collectResults gathers every executor's payload, persists it on the
// subtask rows and reduces the merged list
func (s *Scheduler) collectResults(ctx context.Context, task *models.Task, assignments []assignment) (map[string]any, error) {
	if err := s.store.SetTaskStatus(ctx, task.TaskUID, models.TaskStatusResultProcessing); err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, len(assignments))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assignments {
		g.Go(func() error {
			result, err := s.executors.Result(gctx, a.executor.BaseURL(), a.subtaskUID)
			if err != nil {
				return fmt.Errorf("failed to collect result of subtask %s: %w", a.subtaskUID, err)
			}
			payloads[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, a := range assignments {
		if err := s.store.SetSubtaskResult(ctx, a.subtaskUID, payloads[i]); err != nil {
			return nil, err
		}
	}

	merged, err := MergeResults(payloads)
	if err != nil {
		return nil, err
	}
	return Reduce(task.TaskType, merged)
}

func (s *Scheduler) fail(ctx context.Context, log *logrus.Entry, taskUID string, err error) {
	log.WithError(err).Error("Task failed")
	if ferr := s.store.FinishTask(ctx, taskUID, models.TaskStatusError, nil, s.now()); ferr != nil {
		log.WithError(ferr).Error("Failed to record task failure")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
