// Package influxdb records entity status transitions as time-series
// points.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "home",
//	    Bucket:  "isyshadow",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStatusTransition("16 2E 45 1", "node", "ST", "255", "100", time.Now())
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
//
// # Performance
//
// Writes are batched according to config (batch_size, flush_interval),
// which keeps a chatty controller from turning into one HTTP request
// per event.
package influxdb
