package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/config"
)

// Handler upgrades HTTP requests into live subscription sessions.
type Handler struct {
	cfg         config.WS
	broadcaster *Broadcaster
	replayer    Replayer
}

// NewHandler returns a Handler serving sessions registered with
// |broadcaster|. |replayer| may be nil, which disables resume replay.
func NewHandler(cfg config.WS, broadcaster *Broadcaster, replayer Replayer) *Handler {
	return &Handler{cfg: cfg, broadcaster: broadcaster, replayer: replayer}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	var conn, err = upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "client": r.RemoteAddr}).
			Warn("failed to upgrade subscription request")
		return
	}
	sessionsStartedCounter.Inc()
	log.WithField("client", r.RemoteAddr).Info("websocket connection established")

	var session = newSession(conn, h.cfg, h.replayer)
	h.broadcaster.register(session)
	defer h.broadcaster.unregister(session)

	session.run(r.Context())
	log.WithField("client", r.RemoteAddr).Info("websocket connection closed")
}
