package metrics

import (
	"fmt"
	"strings"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

var Metrics statsd.ClientInterface
var StatsEnabled bool

var logger = zap.NewNop()

// Setup connects the global statsd client. An empty server leaves stats disabled.
func Setup(server string, log *zap.Logger) error {
	if log != nil {
		logger = log
	}
	if server == "" {
		StatsEnabled = false
		return nil
	}
	client, err := statsd.New(server, statsd.WithNamespace("hab."))
	if err != nil {
		return errors.Wrapf(err, "creating statsd client for %s", server)
	}
	Metrics = client
	StatsEnabled = true
	return nil
}

func Close() {
	if StatsEnabled && Metrics != nil {
		_ = Metrics.Close()
	}
}

func FormatTag(key, value string) string {
	return fmt.Sprintf("%s:%s", key, value)
}

func SendGaugeMetric(name string, tags []string, value float64) {
	if StatsEnabled {
		err := Metrics.Gauge(name, value, tags, 1)
		if err != nil {
			logger.Warn("Got error trying to send metric", zap.String("metric", name), zap.Error(err))
		}
	}
}

// StatsCallback turns numeric channel states into gauges and keeps the
// Prometheus channel and status gauges current.
type StatsCallback struct{}

func (StatsCallback) StatusUpdated(uid thing.UID, info thing.StatusInfo) {
	value := 0.0
	if info.Status == thing.StatusOnline {
		value = 1
	}
	ThingOnline.WithLabelValues(uid.String()).Set(value)
	SendGaugeMetric("thing.online", []string{FormatTag("thing", uid.String())}, value)
}

func (StatsCallback) StateUpdated(channel thing.ChannelUID, state thing.State) {
	numeric, ok := state.(thing.Numeric)
	if !ok {
		return
	}
	value := numeric.Float()
	ChannelValue.WithLabelValues(channel.Thing.String(), channel.LocalID()).Set(value)
	SendGaugeMetric(metricName(channel), []string{
		FormatTag("thing", channel.Thing.String()),
		FormatTag("binding", channel.Thing.Binding()),
	}, value)
}

// metricName renders group#channel-id as group.channel_id.
func metricName(channel thing.ChannelUID) string {
	name := strings.ReplaceAll(channel.LocalID(), "#", ".")
	return "channel." + strings.ReplaceAll(name, "-", "_")
}
