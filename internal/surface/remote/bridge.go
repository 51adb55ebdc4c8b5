package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/logging"
)

var (
	// ErrNotReady 页面还没上报 ready，播放器无法接收命令
	ErrNotReady  = errors.New("player bridge not ready")
	ErrQueueFull = errors.New("player bridge send queue full")
	ErrClosed    = errors.New("player bridge closed")
)

// Bridge is one connected player page. It implements audio.RemoteSurface:
// SetVolume only queues the command, the page applies it whenever it can.
type Bridge struct {
	id      string
	channel audio.Channel
	conn    *websocket.Conn
	cfg     Config
	log     logging.Scoped

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	ready     atomic.Bool

	mu          sync.Mutex
	state       PlayerState
	reported    float64
	hasReported bool
}

func newBridge(id string, ch audio.Channel, conn *websocket.Conn, cfg Config) *Bridge {
	return &Bridge{
		id:      id,
		channel: ch,
		conn:    conn,
		cfg:     cfg,
		log:     logging.ForSurface(ch.String(), id),
		send:    make(chan []byte, cfg.SendQueue),
		done:    make(chan struct{}),
	}
}

func (b *Bridge) ID() string {
	return b.id
}

func (b *Bridge) Channel() audio.Channel {
	return b.channel
}

func (b *Bridge) Ready() bool {
	return b.ready.Load()
}

func (b *Bridge) State() PlayerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetVolume 把 [0,1] 的音量换算成播放器的 0-100 刻度后入队
func (b *Bridge) SetVolume(value float64) error {
	if !b.ready.Load() {
		return ErrNotReady
	}
	level := int(math.Round(math.Max(0, math.Min(1, value)) * 100))
	return b.enqueue(setVolumeMessage{Type: typeSetVolume, Value: level})
}

// ReportedVolume returns the page's last volume read-back, normalized to [0,1].
func (b *Bridge) ReportedVolume() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reported, b.hasReported
}

func (b *Bridge) sendDuck(state string, factor float64) error {
	return b.enqueue(duckMessage{Type: typeDuck, State: state, Factor: factor})
}

func (b *Bridge) enqueue(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.send <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Bridge) setState(state PlayerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

func (b *Bridge) setReported(value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reported = math.Max(0, math.Min(1, value/100))
	b.hasReported = true
}

// Close 关闭连接，读写两个 goroutine 都会随之退出
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.ready.Store(false)
		_ = b.conn.Close()
	})
}

func (b *Bridge) writeLoop() {
	ticker := time.NewTicker(b.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			_ = b.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(b.cfg.WriteTimeout))
			return
		case payload := <-b.send:
			_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.log.Warnf("PlayerBridge: write failed: %v", err)
				b.Close()
				return
			}
		case <-ticker.C:
			_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.log.Debugf("PlayerBridge: ping failed: %v", err)
				b.Close()
				return
			}
		}
	}
}
