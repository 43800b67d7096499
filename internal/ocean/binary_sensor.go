package ocean

import (
	"github.com/camarigor/ocean-hq/internal/collector"
	"github.com/camarigor/ocean-hq/internal/entity"
)

// WorkerStatusSensor reports whether a worker is actively hashing
type WorkerStatusSensor struct {
	coordinatorEntity
	worker string
}

// NewWorkerStatusSensor creates the status binary sensor for worker
func NewWorkerStatusSensor(coll *collector.Collector, worker string) *WorkerStatusSensor {
	return &WorkerStatusSensor{coordinatorEntity: coordinatorEntity{coll: coll}, worker: worker}
}

// Worker returns the worker name
func (s *WorkerStatusSensor) Worker() string { return s.worker }

func (s *WorkerStatusSensor) UniqueID() string {
	return s.coll.Username() + "_" + safeWorkerName(s.worker) + "_" + workerStatusDescription.Key
}

func (s *WorkerStatusSensor) Name() string                    { return s.worker + " " + workerStatusDescription.Name }
func (s *WorkerStatusSensor) Platform() entity.Platform       { return entity.PlatformBinarySensor }
func (s *WorkerStatusSensor) Description() entity.Description { return workerStatusDescription }
func (s *WorkerStatusSensor) Device() entity.DeviceInfo       { return workerDevice(s.coll.Username(), s.worker) }

func (s *WorkerStatusSensor) Available() bool {
	if !s.collectorAvailable() {
		return false
	}
	_, ok := s.coll.Data().Worker(s.worker)
	return ok
}

// Value is false when the worker is missing from the snapshot
func (s *WorkerStatusSensor) Value() any {
	w, ok := s.coll.Data().Worker(s.worker)
	return ok && w.Active
}

func (s *WorkerStatusSensor) Attributes() map[string]any {
	w, ok := s.coll.Data().Worker(s.worker)
	if !ok {
		return nil
	}
	return map[string]any{
		"hashrate_60s":  w.Hashrate60s,
		"hashrate_300s": w.Hashrate300s,
		"shares_60s":    w.Shares60s,
	}
}
