package monitor

import (
	"strconv"

	"github.com/cuemby/trainyard/pkg/events"
)

func progressEvent(job Job, progress int) *events.Event {
	return &events.Event{
		Type:    events.EventTaskProgress,
		TaskID:  job.TaskID,
		AssetID: job.AssetID,
		Metadata: map[string]string{
			"capability": string(job.Capability),
			"job_id":     job.JobID,
			"progress":   strconv.Itoa(progress),
		},
	}
}
