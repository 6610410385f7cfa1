/*
Package s3 implements storage.Sink on top of an S3-compatible object store.

The sink is built for small, frequent uploads from an edge device over an
unreliable link rather than for throughput:

	┌──────────────────────────────────────┐
	│           storage.Sink               │
	└──────────────────────────────────────┘
	                  │
	┌──────────────────────────────────────┐
	│   Circuit breaker (unreachable only) │
	└──────────────────────────────────────┘
	                  │
	┌──────────────────────────────────────┐
	│   Retryer (bounded, within one tick) │
	└──────────────────────────────────────┘
	                  │
	┌──────────────────────────────────────┐
	│   aws-sdk-go-v2 S3 client            │
	│   static credentials, path style     │
	└──────────────────────────────────────┘

# Objects

Each capture is stored with a single PutObject under

	cameras/{camera_id}/{timestamp}.jpg

with Content-Type image/jpeg and the user metadata camera_id, captured_at
and source. Keys are deterministic, so re-uploading a capture after an
ambiguous failure overwrites the same object instead of creating a
duplicate.

# Errors

Every failure is an *errors.AgentError with one of two codes:

	STORAGE_UNREACHABLE  no response, timeout, 5xx, throttling, open circuit
	STORAGE_REJECTED     any other 4xx (credentials, bucket, permissions)

Only unreachable errors are retried within an upload and only they count
towards opening the circuit breaker. Callers keep the local file in both
cases and try again on a later cycle.

# Usage

	sink, err := s3.NewSink(ctx, &s3.Config{
		Endpoint:        "https://sos-ch-dk-2.exo.io",
		Region:          "ch-dk-2",
		Bucket:          "camera-snapshots",
		AccessKeyID:     key,
		SecretAccessKey: secret,
		ForcePathStyle:  true,
	}, logger)
	if err != nil {
		return err
	}
	if err := sink.Connect(ctx); err != nil {
		logger.Warn("storage not reachable, continuing offline", "error", err)
	}
	err = sink.Upload(ctx, rec)
*/
package s3
