/*
Package config loads trainyard's settings with spf13/viper.

Settings come from, in increasing priority: built-in defaults, an optional
YAML file passed with --config, and TRAINYARD_* environment variables. Env
names are the key path upper-cased with dots replaced by underscores:

	storage.backend              TRAINYARD_STORAGE_BACKEND
	storage.postgres.host        TRAINYARD_STORAGE_POSTGRES_HOST
	scheduler.labeling_workers   TRAINYARD_SCHEDULER_LABELING_WORKERS
	monitor.training.max_errors  TRAINYARD_MONITOR_TRAINING_MAX_ERRORS

Every key has a default, so an empty environment yields a working
single-node setup on the bolt backend under ./data.

# Example

	log:
	  level: debug
	  json: true
	storage:
	  backend: postgres
	  postgres:
	    host: db.internal
	    password: secret
	redis:
	  enabled: true
	  host: redis.internal
	scheduler:
	  labeling_workers: 4
	  strategy: round-robin
	monitor:
	  training:
	    poll_interval: 1m

Load validates the result and reports every invalid setting at once. The
LoggerConfig, SchedulerConfig, MonitorConfig, RemoteOptions and
HealthConfig methods translate the file layout into each package's own
config type, so those packages never import viper.
*/
package config
