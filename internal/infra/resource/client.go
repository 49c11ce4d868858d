// Package resource moves task inputs and result packages between
// nodes. Pulls run asynchronously on a bounded pool and complete via
// callback; every pull is scoped to its task so an abort cancels all
// in-flight transfers for that task.
package resource

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/krill-network/krill/internal/domain"
)

// Fetcher is the underlying transfer mechanism. DirFetcher serves from
// a local content-addressed directory; tests substitute their own.
type Fetcher interface {
	// FetchResources materializes a task's input resources locally.
	FetchResources(ctx context.Context, taskID string, resources []string, opts domain.ResourceOptions) error

	// FetchResultPackage retrieves and unpacks one result package.
	FetchResultPackage(ctx context.Context, hash, secret string, opts domain.ResourceOptions, outputDir string) (domain.TaskResult, error)
}

// Client implements domain.ResourceClient on top of a Fetcher, with a
// weighted semaphore bounding concurrent transfers.
type Client struct {
	fetcher Fetcher
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[string]*taskPulls // taskID → cancellation scope
}

type taskPulls struct {
	ctx    context.Context
	cancel context.CancelFunc
	count  int
}

// NewClient builds a client allowing up to maxConcurrent transfers.
func NewClient(fetcher Fetcher, maxConcurrent int64, logger *zap.Logger) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Client{
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
		tasks:   make(map[string]*taskPulls),
	}
}

// PullResources fetches a task's input resources and reports completion
// through done on a separate goroutine.
func (c *Client) PullResources(ctx context.Context, taskID string, resources []string, opts domain.ResourceOptions, done func(error)) {
	pullCtx := c.enter(ctx, taskID)
	go func() {
		defer c.leave(taskID)
		if err := c.sem.Acquire(pullCtx, 1); err != nil {
			done(err)
			return
		}
		defer c.sem.Release(1)

		err := c.fetcher.FetchResources(pullCtx, taskID, resources, opts)
		if err != nil {
			c.logger.Warn("resource pull failed",
				zap.String("task_id", taskID), zap.Error(err))
		}
		done(err)
	}()
}

// PullResultPackage fetches one result package into outputDir and calls
// exactly one of success or failure.
func (c *Client) PullResultPackage(ctx context.Context, hash, taskID, subtaskID, secret string,
	opts domain.ResourceOptions, outputDir string, success func(domain.TaskResult), failure func(error)) {

	pullCtx := c.enter(ctx, taskID)
	go func() {
		defer c.leave(taskID)
		if err := c.sem.Acquire(pullCtx, 1); err != nil {
			failure(err)
			return
		}
		defer c.sem.Release(1)

		result, err := c.fetcher.FetchResultPackage(pullCtx, hash, secret, opts, outputDir)
		if err != nil {
			c.logger.Warn("result package pull failed",
				zap.String("subtask_id", subtaskID), zap.Error(err))
			failure(err)
			return
		}
		result.SubtaskID = subtaskID
		success(result)
	}()
}

// CancelTask aborts every in-flight pull for the task.
func (c *Client) CancelTask(taskID string) {
	c.mu.Lock()
	tp := c.tasks[taskID]
	c.mu.Unlock()
	if tp != nil {
		tp.cancel()
	}
}

// enter joins the caller context with the task's cancellation scope.
func (c *Client) enter(ctx context.Context, taskID string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	tp, ok := c.tasks[taskID]
	if !ok {
		tctx, cancel := context.WithCancel(ctx)
		tp = &taskPulls{ctx: tctx, cancel: cancel}
		c.tasks[taskID] = tp
	}
	tp.count++
	return tp.ctx
}

func (c *Client) leave(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tp, ok := c.tasks[taskID]
	if !ok {
		return
	}
	tp.count--
	if tp.count <= 0 {
		tp.cancel()
		delete(c.tasks, taskID)
	}
}

var _ domain.ResourceClient = (*Client)(nil)

// ErrUnknownResource reports a fetch miss.
var ErrUnknownResource = fmt.Errorf("resource not found")
