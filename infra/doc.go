// Package infra contains technical adapters such as the Postgres store,
// geocoding client, distance cache, metrics sinks and the MQTT notifier.
// These packages depend only on the ports defined under core.
package infra
