package remote

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/logging"
)

// Config 播放器桥接参数
type Config struct {
	SendQueue    int
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
}

func DefaultConfig() Config {
	return Config{
		SendQueue:    16,
		WriteTimeout: 2 * time.Second,
		PongWait:     30 * time.Second,
		PingPeriod:   20 * time.Second,
		ReadLimit:    64 * 1024,
	}
}

// ControlHandler executes a UI command sent by a page and returns its result.
type ControlHandler func(command string, args map[string]any) (any, error)

// Hub accepts player pages on a websocket endpoint. The channel a page drives is
// chosen with the "channel" query parameter.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	bridges  map[string]*Bridge
	closed   bool
	onAttach func(audio.Channel, *Bridge)
	onDetach func(audio.Channel, *Bridge)
	onState  func(*Bridge, PlayerState)
	onSpeech func(bool)
	onCtrl   ControlHandler
}

func NewHub(cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 2 / 3
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 播放器页面可能来自任意本地来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bridges: make(map[string]*Bridge),
	}
}

// OnAttach is called once a page reports ready.
func (h *Hub) OnAttach(handler func(audio.Channel, *Bridge)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAttach = handler
}

// OnDetach is called when a page that was ready disconnects.
func (h *Hub) OnDetach(handler func(audio.Channel, *Bridge)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDetach = handler
}

func (h *Hub) OnPlayerState(handler func(*Bridge, PlayerState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = handler
}

func (h *Hub) OnSpeech(handler func(detected bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSpeech = handler
}

func (h *Hub) OnControl(handler ControlHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCtrl = handler
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, err := audio.ParseChannel(r.URL.Query().Get("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("PlayerHub: websocket upgrade error: %v", err)
		return
	}

	bridge := newBridge(uuid.NewString(), ch, conn, h.cfg)
	h.mu.Lock()
	h.bridges[bridge.id] = bridge
	h.mu.Unlock()
	logging.Infof("PlayerHub: page %s connected for %s", bridge.id, ch)

	go bridge.writeLoop()
	h.readLoop(bridge)

	wasReady := bridge.Ready()
	bridge.Close()
	h.mu.Lock()
	delete(h.bridges, bridge.id)
	onDetach := h.onDetach
	h.mu.Unlock()
	logging.Infof("PlayerHub: page %s disconnected", bridge.id)
	if wasReady && onDetach != nil {
		onDetach(ch, bridge)
	}
}

func (h *Hub) readLoop(b *Bridge) {
	b.conn.SetReadLimit(h.cfg.ReadLimit)
	_ = b.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Debugf("PlayerBridge: read error: %v", err)
			}
			return
		}
		_ = b.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warnf("PlayerBridge: bad message: %v", err)
			_ = b.enqueue(errorMessage{Type: typeError, Message: "invalid json"})
			continue
		}
		h.handleMessage(b, msg)
	}
}

func (h *Hub) handleMessage(b *Bridge, msg inboundMessage) {
	h.mu.Lock()
	onAttach, onState, onSpeech, onCtrl := h.onAttach, h.onState, h.onSpeech, h.onCtrl
	h.mu.Unlock()

	switch msg.Type {
	case typeReady:
		// 重复 ready（页面内播放器重建）也重新绑定，让混音器重发目标
		b.ready.Store(true)
		b.log.Infof("PlayerBridge: ready")
		if onAttach != nil {
			onAttach(b.channel, b)
		}
	case typeState:
		state := ParsePlayerState(msg.State)
		b.setState(state)
		b.log.Debugf("PlayerBridge: state %s", state)
		if onState != nil {
			onState(b, state)
		}
	case typeVolume:
		if msg.Value == nil {
			return
		}
		b.setReported(*msg.Value)
	case typeSpeech:
		if msg.Detected == nil {
			return
		}
		if onSpeech != nil {
			onSpeech(*msg.Detected)
		}
	case typeControl:
		result := controlResultMessage{Type: typeControlResult, Command: msg.Command}
		if onCtrl == nil {
			result.Error = "control not available"
		} else if out, err := onCtrl(msg.Command, msg.Args); err != nil {
			result.Error = err.Error()
		} else {
			result.OK = true
			result.Result = out
		}
		if err := b.enqueue(result); err != nil {
			b.log.Warnf("PlayerBridge: control reply dropped: %v", err)
		}
	default:
		b.log.Debugf("PlayerBridge: ignoring message type %q", msg.Type)
	}
}

// BroadcastDuck 把闪避状态推送给所有已就绪的页面
func (h *Hub) BroadcastDuck(state string, factor float64) {
	for _, b := range h.Bridges() {
		if !b.Ready() {
			continue
		}
		if err := b.sendDuck(state, factor); err != nil {
			b.log.Debugf("PlayerBridge: duck broadcast dropped: %v", err)
		}
	}
}

// Bridges returns the currently connected pages.
func (h *Hub) Bridges() []*Bridge {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Bridge, 0, len(h.bridges))
	for _, b := range h.bridges {
		out = append(out, b)
	}
	return out
}

// Close 断开所有页面并拒绝新连接
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	bridges := make([]*Bridge, 0, len(h.bridges))
	for _, b := range h.bridges {
		bridges = append(bridges, b)
	}
	h.mu.Unlock()

	for _, b := range bridges {
		b.Close()
	}
}
