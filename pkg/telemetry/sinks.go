package telemetry

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"modelreg/pkg/logger"
)

// LogSink 将遥测事件写入日志的下沉实现
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink 创建日志下沉
func NewLogSink() *LogSink {
	return &LogSink{
		log: logger.WithComponent("Telemetry"),
	}
}

// Emit 实现 Sink 接口
func (s *LogSink) Emit(event Event) {
	fields := logrus.Fields{
		"event":    event.Name,
		"provider": string(event.ProviderID),
	}
	for k, v := range event.Fields {
		fields[k] = v
	}
	s.log.WithFields(fields).Debug("telemetry event")
}

// InfluxSinkConfig InfluxDB下沉配置
type InfluxSinkConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// InfluxSink 将遥测事件写入InfluxDB的下沉实现
// 使用非阻塞的WriteAPI，写入失败只记录日志。
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *logrus.Entry
}

// NewInfluxSink 创建InfluxDB下沉
func NewInfluxSink(config InfluxSinkConfig) *InfluxSink {
	client := influxdb2.NewClient(config.URL, config.Token)
	writeAPI := client.WriteAPI(config.Org, config.Bucket)

	sink := &InfluxSink{
		client:   client,
		writeAPI: writeAPI,
		log:      logger.WithComponent("InfluxSink"),
	}

	// 异步写入的错误通过通道报告
	go func() {
		for err := range writeAPI.Errors() {
			sink.log.WithError(err).Warn("influxdb write failed")
		}
	}()

	return sink
}

// Emit 实现 Sink 接口
func (s *InfluxSink) Emit(event Event) {
	fields := make(map[string]interface{}, len(event.Fields)+1)
	for k, v := range event.Fields {
		fields[k] = v
	}
	if len(fields) == 0 {
		fields["count"] = 1
	}

	point := influxdb2.NewPoint(
		event.Name,
		map[string]string{"provider": string(event.ProviderID)},
		fields,
		event.Time,
	)
	s.writeAPI.WritePoint(point)
}

// Close 冲刷并关闭InfluxDB客户端
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}
