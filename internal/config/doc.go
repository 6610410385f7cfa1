/*
Package config loads and validates the agent configuration.

Sources are layered with increasing precedence:

	compiled-in defaults (NewDefault)
	YAML file (LoadFromFile, default /etc/stillshot/config.yaml)
	environment variables (LoadFromEnv)
	command-line flags (applied by cmd/stillshot)

Environment variables:

	CAMERA_ID                 camera identity, used in object keys
	CAMERA_TYPE               module | usb ("pi" is accepted as an alias for module)
	CAMERA_DEVICE             device node for the usb driver
	CAPTURE_INTERVAL_SECONDS  seconds between ticks
	IMAGE_QUALITY             JPEG quality 0-100
	IMAGE_WIDTH, IMAGE_HEIGHT capture resolution
	S3_ENDPOINT               S3-compatible endpoint URL
	S3_ACCESS_KEY             access key id
	S3_SECRET_KEY             secret access key
	S3_BUCKET                 destination bucket
	S3_REGION                 signing region
	STILLSHOT_QUEUE_DIR       fallback directory for pending uploads
	STILLSHOT_LOG_LEVEL       DEBUG | INFO | WARN | ERROR
	STILLSHOT_LOG_FILE        optional rotating log file
	STILLSHOT_METRICS_PORT    port for /metrics and /healthz; 0 disables

A numeric variable that does not parse is an INVALID_CONFIG error rather
than being ignored.

Validate reports every missing required field in one MISSING_CONFIG error,
whose "missing" detail lists the variable names. The configuration is read
once at startup and never reloaded.
*/
package config
