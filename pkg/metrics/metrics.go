// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	// #nosec
	_ "net/http/pprof"

	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// relayNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	relayNamespace = "relay"

	// 以下为当前使用的通用标签名。
	transportLabelName = "transport"
	reasonLabelName    = "reason"
	targetLabelName    = "target"

	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"

	TargetAll  = "all"
	TargetName = "name"

	// 连接被拒绝、投递失败的原因。
	ReasonServerFull       = "server_full"
	ReasonNameTaken        = "name_taken"
	ReasonNameInvalid      = "name_invalid"
	ReasonHandshakeTimeout = "handshake_timeout"
	ReasonSessionClosed    = "session_closed"
	ReasonQueueFull        = "queue_full"
	ReasonRecipientMissing = "recipient_not_found"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [0.0625 0.125 0.25 0.5 1 2 4 8 16 32 64 128 256 512 1024 2048]
	buckets = prometheus.ExponentialBuckets(0.0625, 2, 16)

	// SessionNum 为当前已注册（已通过名字握手）的会话数。
	SessionNum = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: relayNamespace,
			Name:      "session_num",
			Help:      "number of registered sessions",
		}, []string{transportLabelName})

	ConnectionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Name:      "connections_accepted_total",
			Help:      "number of accepted connections",
		}, []string{transportLabelName})

	ConnectionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Name:      "connections_rejected_total",
			Help:      "number of connections closed before registration",
		}, []string{reasonLabelName})

	MessagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Name:      "messages_routed_total",
			Help:      "number of route requests handled",
		}, []string{targetLabelName})

	LinesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Name:      "lines_delivered_total",
			Help:      "number of lines enqueued on recipient sessions",
		})

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Name:      "delivery_failures_total",
			Help:      "number of per-recipient delivery failures",
		}, []string{reasonLabelName})

	RouteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: relayNamespace,
			Name:      "route_latency",
			Help:      "latency of a single route request in milliseconds",
			Buckets:   buckets,
		}, []string{targetLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(SessionNum)
		r.MustRegister(ConnectionsAccepted)
		r.MustRegister(ConnectionsRejected)
		r.MustRegister(MessagesRouted)
		r.MustRegister(LinesDelivered)
		r.MustRegister(DeliveryFailures)
		r.MustRegister(RouteLatency)
		RegisterLoggingMetrics(r)
		metricRegisterer = r
	})
}
