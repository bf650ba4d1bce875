package monitor

import (
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

type evdevMonitor struct {
	backend inputdev.Backend
	events  chan model.KeyEvent
	gone    chan string
	stop    chan struct{}

	mu       sync.Mutex
	running  bool
	stopped  bool
	readers  map[string]*watch
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// watch 一个键盘的监听描述符
type watch struct {
	path string
	node inputdev.Node
	// 主动停止时读取协程的退出不上报 Gone
	stopping atomic.Bool
}

// close 先 Revoke 唤醒阻塞的读取, 再关闭
func (w *watch) close() {
	w.stopping.Store(true)
	if err := w.node.Revoke(); err != nil && !errors.Is(err, model.ErrDeviceGone) && !errors.Is(err, os.ErrClosed) {
		sysutil.Log.Debug("Revoke failed", zap.String("path", w.path), zap.Error(err))
	}
	_ = w.node.Close()
}

func newMonitor(backend inputdev.Backend) *evdevMonitor {
	return &evdevMonitor{
		backend: backend,
		events:  make(chan model.KeyEvent, 256),
		gone:    make(chan string, 16),
		stop:    make(chan struct{}),
		readers: make(map[string]*watch),
	}
}

// Start 启动之前添加的监听
func (m *evdevMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.stopped {
		return
	}
	m.running = true
	for _, w := range m.readers {
		m.spawn(w)
	}
	sysutil.Log.Info("👀 Keyboard monitor started", zap.Int("devices", len(m.readers)))
}

func (m *evdevMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		close(m.stop)
		for path, w := range m.readers {
			w.close()
			delete(m.readers, path)
		}
		m.mu.Unlock()
		m.wg.Wait()
		sysutil.Log.Info("Keyboard monitor stopped")
	})
}

func (m *evdevMonitor) AddWatch(devPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return os.ErrClosed
	}
	if _, ok := m.readers[devPath]; ok {
		return nil
	}
	node, err := m.backend.Open(devPath)
	if err != nil {
		return err
	}
	w := &watch{path: devPath, node: node}
	m.readers[devPath] = w
	if m.running {
		m.spawn(w)
	}
	sysutil.Log.Debug("Watching keyboard", zap.String("path", devPath))
	return nil
}

func (m *evdevMonitor) RemoveWatch(devPath string) {
	m.mu.Lock()
	w, ok := m.readers[devPath]
	delete(m.readers, devPath)
	m.mu.Unlock()
	if ok {
		w.close()
		sysutil.Log.Debug("Stopped watching keyboard", zap.String("path", devPath))
	}
}

func (m *evdevMonitor) Watching() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.readers))
	for p := range m.readers {
		out = append(out, p)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

func (m *evdevMonitor) Events() <-chan model.KeyEvent { return m.events }

func (m *evdevMonitor) Gone() <-chan string { return m.gone }

// Forward 阻塞直到事件被接收或监听停止, 不丢事件
func (m *evdevMonitor) Forward(ev model.KeyEvent) {
	select {
	case m.events <- ev:
	case <-m.stop:
	}
}

// spawn 调用方持有 m.mu
func (m *evdevMonitor) spawn(w *watch) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.read(w)
	}()
}

func (m *evdevMonitor) read(w *watch) {
	for {
		ev, err := w.node.ReadOne()
		if err != nil {
			m.readFailed(w, err)
			return
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		m.Forward(model.KeyEvent{Path: w.path, Code: ev.Code, Value: ev.Value, TimeStamp: time.Now()})
	}
}

func (m *evdevMonitor) readFailed(w *watch, err error) {
	if w.stopping.Load() || errors.Is(err, os.ErrClosed) {
		return
	}
	path := w.path

	m.mu.Lock()
	if m.readers[path] == w {
		delete(m.readers, path)
	}
	m.mu.Unlock()
	_ = w.node.Close()

	if errors.Is(err, model.ErrDeviceGone) || errors.Is(err, model.ErrNotFound) {
		sysutil.Log.Info("❌ Keyboard disconnected", zap.String("path", path))
		select {
		case m.gone <- path:
		case <-m.stop:
		}
		return
	}
	sysutil.Log.Warn("Keyboard read failed, watch dropped", zap.String("path", path), zap.Error(err))
}
