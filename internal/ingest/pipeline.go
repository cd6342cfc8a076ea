// Package ingest feeds normalized telemetry into the automation engine,
// from the vendor MQTT stream and from scheduled polls of the vendor API.
package ingest

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/cache"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/engine"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/store"
)

// Pipeline is the shared path for every snapshot regardless of source:
// archive it, refresh the cache and state feed, then run the automation
// cycle to completion.
type Pipeline struct {
	processor *engine.Processor
	store     *store.Store
	cache     *cache.Cache
	log       *logrus.Entry
}

func NewPipeline(processor *engine.Processor, st *store.Store, c *cache.Cache) *Pipeline {
	return &Pipeline{
		processor: processor,
		store:     st,
		cache:     c,
		log:       logrus.WithField("component", "ingest"),
	}
}

// HandleSnapshot processes one device snapshot. Bookkeeping failures are
// logged but do not stop the automation cycle.
func (p *Pipeline) HandleSnapshot(ctx context.Context, m models.DeviceMetrics) error {
	if err := p.store.InsertTelemetry(ctx, m); err != nil {
		p.log.WithField("device", m.DeviceSN).Errorf("archive telemetry: %v", err)
	}
	if err := p.cache.SetDeviceMetrics(ctx, m); err != nil {
		p.log.WithField("device", m.DeviceSN).Errorf("update state cache: %v", err)
	}
	return p.processor.ProcessDeviceAutomation(ctx, m)
}
