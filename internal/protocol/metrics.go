package protocol

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a Decoder's counters to Prometheus.
type Collector struct {
	d *Decoder

	bytes     *prometheus.Desc
	frames    *prometheus.Desc
	discarded *prometheus.Desc
	resync    *prometheus.Desc
}

// NewCollector returns a collector reading from d at scrape time.
func NewCollector(d *Decoder) *Collector {
	return &Collector{
		d: d,
		bytes: prometheus.NewDesc("depthcam_decoder_bytes_total",
			"Total bytes consumed by the packet decoder", nil, nil),
		frames: prometheus.NewDesc("depthcam_decoder_frames_total",
			"Total frames that passed checksum and duplicate checks", nil, nil),
		discarded: prometheus.NewDesc("depthcam_decoder_discarded_total",
			"Total packets discarded by reason", []string{"reason"}, nil),
		resync: prometheus.NewDesc("depthcam_decoder_resync_bytes_total",
			"Total bytes skipped while scanning for the tail byte", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.frames
	ch <- c.discarded
	ch <- c.resync
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.d.Stats()
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesConsumed))
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.FramesEmitted))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.ChecksumFailures), "checksum")
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.BadLengths), "length")
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.BadGeometry), "geometry")
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Duplicates), "duplicate")
	ch <- prometheus.MustNewConstMetric(c.resync, prometheus.CounterValue, float64(s.ResyncDiscarded))
}
