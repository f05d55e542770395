package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePointWithTime queues a point for the next batch. Points without
// fields are dropped since InfluxDB rejects them.
//
// Parameters:
//   - measurement: The measurement name (e.g. "link_stats")
//   - tags: Indexed, low-cardinality labels (e.g. peer name)
//   - fields: The recorded values
//   - timestamp: The time of the sample
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.points.Add(1)
}
