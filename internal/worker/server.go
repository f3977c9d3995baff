package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/tasks"
)

// WorkerServer wraps the asynq server and the mux wiring for the
// background side of the system: durable event writes, snapshot
// cadence, and session sweeps.
type WorkerServer struct {
	server *asynq.Server
	log    *logrus.Entry

	persistHandler  *EventPersistHandler
	snapshotHandler *SnapshotCheckHandler
	sweepHandler    *SessionSweepHandler
}

// NewWorkerServer creates a WorkerServer instance.
func NewWorkerServer(
	redisOpt asynq.RedisClientOpt,
	persistHandler *EventPersistHandler,
	snapshotHandler *SnapshotCheckHandler,
	sweepHandler *SessionSweepHandler,
	logger *logrus.Logger,
) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:          server,
		log:             logEntry,
		persistHandler:  persistHandler,
		snapshotHandler: snapshotHandler,
		sweepHandler:    sweepHandler,
	}
}

// Start runs the worker server. It blocks, so call it from its own
// goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeEventPersist, ws.persistHandler.ProcessTask)
	mux.HandleFunc(tasks.TypeSnapshotCheck, ws.snapshotHandler.ProcessTask)
	mux.HandleFunc(tasks.TypeSessionSweep, ws.sweepHandler.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown gracefully stops the worker server.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
