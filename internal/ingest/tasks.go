package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/ecoflow"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/metrics"
)

// TaskTypePoll is the asynq task type for one device poll.
const TaskTypePoll = "telemetry:poll"

// PollTaskPayload identifies the device to poll.
type PollTaskPayload struct {
	DeviceSN string `json:"device_sn"`
}

// Enqueuer hands poll tasks to the queue.
type Enqueuer struct {
	client *asynq.Client
	log    *logrus.Entry
}

func NewEnqueuer(redisAddr string) *Enqueuer {
	return &Enqueuer{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		log:    logrus.WithField("component", "taskqueue"),
	}
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// EnqueuePoll schedules one poll of deviceSN.
func (e *Enqueuer) EnqueuePoll(deviceSN string) error {
	payload, err := json.Marshal(PollTaskPayload{DeviceSN: deviceSN})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypePoll, payload)
	info, err := e.client.Enqueue(task, asynq.MaxRetry(1), asynq.Timeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("enqueue poll for %s: %w", deviceSN, err)
	}
	e.log.Debugf("enqueued poll task %s for %s", info.ID, deviceSN)
	return nil
}

// Workers runs the asynq server processing poll tasks. Concurrency lets
// different devices' cycles run independently.
type Workers struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Entry
}

func NewWorkers(redisAddr string, vendor *ecoflow.Client, pipeline *Pipeline) *Workers {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePoll, newPollHandler(vendor, pipeline))
	return &Workers{
		server: asynq.NewServer(
			asynq.RedisClientOpt{Addr: redisAddr},
			asynq.Config{Concurrency: 10},
		),
		mux: mux,
		log: logrus.WithField("component", "taskqueue"),
	}
}

// Start begins processing tasks; it blocks until Stop.
func (w *Workers) Start() error {
	w.log.Info("starting poll workers")
	return w.server.Run(w.mux)
}

func (w *Workers) Stop() {
	w.server.Stop()
	w.server.Shutdown()
}

// newPollHandler fetches the device's quotas and pushes the snapshot
// through the pipeline. An unreachable device yields an offline snapshot so
// offline-edge rules still see the transition.
func newPollHandler(vendor *ecoflow.Client, pipeline *Pipeline) asynq.HandlerFunc {
	log := logrus.WithField("component", "poller")
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PollTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("poll payload: %w", err)
		}

		now := time.Now()
		quota, err := vendor.GetQuotaAll(ctx, payload.DeviceSN)
		var m = metrics.Offline(payload.DeviceSN, now)
		if err != nil {
			log.WithField("device", payload.DeviceSN).Warnf("poll failed, treating as offline: %v", err)
		} else {
			m = metrics.Build(payload.DeviceSN, true, quota, now)
		}
		return pipeline.HandleSnapshot(ctx, m)
	}
}
