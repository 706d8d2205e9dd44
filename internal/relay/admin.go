package relay

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionInfo 为 /sessions 接口返回的单个会话信息。
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Transport   string    `json:"transport"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

// SessionsResponse 为 /sessions 接口的响应体。
type SessionsResponse struct {
	Count    int           `json:"count"`
	Sessions []SessionInfo `json:"sessions"`
}

// Sessions 返回当前在线会话的快照，按名字排序。
func (s *Server) Sessions() []SessionInfo {
	names := s.registry.Names()
	infos := make([]SessionInfo, 0, len(names))
	for _, name := range names {
		sess, ok := s.registry.Lookup(name)
		if !ok {
			continue
		}
		infos = append(infos, sessionInfo(sess))
	}
	return infos
}

func sessionInfo(sess session.Session) SessionInfo {
	info := SessionInfo{
		ID:          sess.ID(),
		Name:        sess.Name(),
		Transport:   sess.Transport(),
		ConnectedAt: sess.ConnectedAt(),
	}
	if addr := sess.RemoteAddr(); addr != nil {
		info.Remote = addr.String()
	}
	return info
}

// newAdminHandler 构建管理接口：
//   - /metrics      ：Prometheus 指标；
//   - /sessions     ：在线会话列表（JSON）；
//   - /debug/pprof/ ：Go 运行时剖析。
func newAdminHandler(s *Server) http.Handler {
	mux := http.NewServeMux()

	gatherer := prometheus.DefaultGatherer
	if g, ok := metrics.GetRegisterer().(prometheus.Gatherer); ok {
		gatherer = g
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessions := s.Sessions()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(SessionsResponse{Count: len(sessions), Sessions: sessions}); err != nil {
			s.Logger().RatedWarn(1, "encode sessions failed", zap.Error(err))
		}
	})

	// net/http/pprof 由 pkg/metrics 引入，注册在 DefaultServeMux 上。
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}
