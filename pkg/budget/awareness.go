package budget

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// awarenessState holds externally fetched canvas context. It goes stale by
// age, by a mutating tool call, or by an external change to the watched
// export file; stale content must be refreshed before reuse as THINK input.
type awarenessState struct {
	content   string
	fetchedAt time.Time
	stale     bool
	maxAge    time.Duration
}

// SetAwarenessMaxAge configures the age after which awareness content is
// considered stale. Zero disables age-based staleness.
func (m *Manager) SetAwarenessMaxAge(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awareness.maxAge = maxAge
}

// SetAwareness stores freshly fetched awareness content.
func (m *Manager) SetAwareness(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awareness.content = content
	m.awareness.fetchedAt = time.Now()
	m.awareness.stale = false
}

// MarkAwarenessStale invalidates awareness content, typically after a
// mutation-class tool call.
func (m *Manager) MarkAwarenessStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awareness.stale = true
}

// Awareness returns the stored content and whether it is still fresh.
func (m *Manager) Awareness() (content string, fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.awareness.content == "" || m.awareness.stale {
		return m.awareness.content, false
	}
	if m.awareness.maxAge > 0 && time.Since(m.awareness.fetchedAt) > m.awareness.maxAge {
		return m.awareness.content, false
	}
	return m.awareness.content, true
}

// AwarenessWatcher invalidates awareness when the watched canvas export
// file changes outside the loop's own tool calls.
type AwarenessWatcher struct {
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	done    chan struct{}
}

// WatchAwareness starts watching path and marks the manager's awareness
// stale on every write, create, or remove event.
func WatchAwareness(path string, m *Manager, logger zerolog.Logger) (*AwarenessWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	aw := &AwarenessWatcher{
		watcher: watcher,
		logger:  logger.With().Str("component", "awareness-watcher").Logger(),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(aw.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					aw.logger.Debug().Str("path", event.Name).Msg("External change, awareness marked stale")
					m.MarkAwarenessStale()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				aw.logger.Warn().Err(err).Msg("Watcher error")
			}
		}
	}()

	return aw, nil
}

// Close stops the watcher.
func (aw *AwarenessWatcher) Close() error {
	err := aw.watcher.Close()
	<-aw.done
	return err
}
