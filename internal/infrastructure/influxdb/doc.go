// Package influxdb provides InfluxDB connectivity for bridged.
//
// It wraps influxdb-client-go v2 with connect-time health checking and a
// non-blocking batched write API. The telemetry package feeds it one
// link_stats point per peer and interval.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePointWithTime("link_stats",
//	    map[string]string{"peer": "amp"},
//	    map[string]any{"bytes_received": 1024},
//	    time.Now())
//
// # Error Handling
//
// Writes never block and never return errors; batch failures are delivered
// to the SetOnError callback. Connect and HealthCheck return errors directly.
package influxdb
