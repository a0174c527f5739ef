package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/types"
)

// Source lists the records the collector summarizes
type Source interface {
	ListTasks() ([]*types.Task, error)
	ListAssets() ([]*types.Asset, error)
}

// Collector refreshes the pipeline gauges from storage on an interval
type Collector struct {
	source   Source
	Interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector refreshing every 15s
func NewCollector(source Source) *Collector {
	return &Collector{
		source:   source,
		Interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start refreshes once, then on every interval until Stop
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.Interval)
		defer ticker.Stop()
		for {
			c.collect()
			select {
			case <-ticker.C:
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the refresh loop
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) collect() {
	logger := log.WithComponent("metrics")
	if tasks, err := c.source.ListTasks(); err != nil {
		logger.Debug().Err(err).Msg("Skipping task gauges")
	} else {
		setTaskGauges(tasks)
	}

	if assets, err := c.source.ListAssets(); err != nil {
		logger.Debug().Err(err).Msg("Skipping asset gauges")
	} else {
		setAssetGauges(assets)
	}
}

func setTaskGauges(tasks []*types.Task) {
	byStatus := make(map[types.TaskStatus]int, len(types.AllTaskStatuses))
	for _, t := range tasks {
		byStatus[t.Status]++
	}
	// Every status is set so an emptied status drops to zero
	for _, s := range types.AllTaskStatuses {
		TasksTotal.WithLabelValues(string(s)).Set(float64(byStatus[s]))
	}
}

func setAssetGauges(assets []*types.Asset) {
	// Deleted assets must not keep their last reading
	AssetReservations.Reset()

	for _, c := range types.Capabilities {
		var offering, free int
		for _, a := range assets {
			used := a.Count(c)
			AssetReservations.WithLabelValues(strconv.FormatInt(a.ID, 10), string(c)).Set(float64(used))
			if !a.Block(c).Enabled {
				continue
			}
			offering++
			if slack := a.MaxConcurrentTasks - used; slack > 0 {
				free += slack
			}
		}
		AssetsTotal.WithLabelValues(string(c)).Set(float64(offering))
		FreeSlots.WithLabelValues(string(c)).Set(float64(free))
	}
}
