package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// Stream rebuild reasons reported on the stream_rebuilds metric.
const (
	rebuildDead          = "dead"
	rebuildDeviceChanged = "device_changed"
)

// monitor polls the session every poll interval until Stop closes s.done.
func (r *Recorder) monitor(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.active.Load() {
				return
			}
			r.checkSession(s)
		}
	}
}

// checkSession runs one health pass over both directions.
func (r *Recorder) checkSession(s *session) {
	ctx := context.Background()
	r.resetForRefresh(s)
	for _, dir := range audio.Directions {
		t := s.tracks[dir]
		r.checkTrack(ctx, s, t)
		reportQueueStats(ctx, r.metrics, s, t)
	}
}

// resetForRefresh handles hosts that only see device changes after a
// refresh, which needs every stream closed. When a track has died it closes
// the healthy one too, so the host can re-enumerate and both directions are
// reopened on the fresh defaults by the following checks. Queued packets are
// kept.
func (r *Recorder) resetForRefresh(s *session) {
	if _, ok := r.host.(audio.DeviceRefresher); !ok {
		return
	}
	dead := false
	for _, t := range s.tracks {
		if !t.alive.Load() {
			dead = true
		}
	}
	if !dead {
		return
	}

	slog.Info("capture stream not alive, refreshing audio devices", "recording_id", s.id)
	for _, t := range s.tracks {
		// Errors the closing streams report from here on are stale.
		t.gen.Add(1)
		t.alive.Store(false)
		if _, stream := t.current(); stream != nil {
			_ = stream.Pause()
			_ = stream.Close()
		}
		t.mu.Lock()
		t.stream = nil
		t.mu.Unlock()
	}
	r.refreshDevices(s.id)
}

// checkTrack flushes t if its queue is over the threshold, then makes sure
// the stream is alive and bound to the current default device.
func (r *Recorder) checkTrack(ctx context.Context, s *session, t *track) {
	if n := t.queue.Len(); n > r.flushThreshold {
		slog.Debug("queue over threshold, flushing segment",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"queued", n,
		)
		r.flush(ctx, s, t, s.nextIndex())
	}

	cur, _ := t.current()
	dev, err := audio.ResolveDefault(r.host, t.dir)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceNotFound) {
			slog.Warn("failed to resolve default device", "direction", t.dir.String(), "error", err)
		}
		return
	}

	switch {
	case !t.alive.Load():
		slog.Info("capture stream not alive, rebuilding",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"device", dev.Name,
		)
		r.rebuild(ctx, s, t, dev, rebuildDead)
	case dev.Name != cur.Name:
		slog.Info("default device changed, switching",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"from", cur.Name,
			"to", dev.Name,
		)
		r.rebuild(ctx, s, t, dev, rebuildDeviceChanged)
	}
}

// rebuild replaces t's stream with a new one on dev. Packets already queued
// are kept. When the stream format changes they are first flushed under the
// old format so that one segment never mixes two formats. A failed rebuild
// leaves t marked dead for the next poll to retry.
func (r *Recorder) rebuild(ctx context.Context, s *session, t *track, dev audio.Device, reason string) {
	stream, err := r.host.OpenStream(dev, t.dir, r.onData(s, t), r.onError(s, t, t.gen.Add(1)))
	if err != nil {
		t.alive.Store(false)
		slog.Warn("failed to rebuild capture stream",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"device", dev.Name,
			"error", err,
		)
		return
	}

	old, oldStream := t.current()
	if oldStream != nil {
		_ = oldStream.Pause()
		_ = oldStream.Close()
	}
	if old.Config != dev.Config && t.queue.Len() > 0 {
		r.flush(ctx, s, t, s.nextIndex())
	}

	t.mu.Lock()
	t.device = dev
	t.stream = stream
	t.mu.Unlock()

	if err := stream.Play(); err != nil {
		t.alive.Store(false)
		slog.Warn("failed to start rebuilt capture stream",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"error", err,
		)
		return
	}
	t.alive.Store(true)
	r.metrics.RecordStreamRebuild(ctx, t.dir.String(), reason)
	slog.Info("capture stream rebuilt",
		"recording_id", s.id,
		"direction", t.dir.String(),
		"device", dev.Name,
		"config", dev.Config.String(),
	)
}

// reportQueueStats publishes packet and drop counts accumulated since the
// previous poll. Drops are counted on the device thread and only logged here.
func reportQueueStats(ctx context.Context, m *observe.Metrics, s *session, t *track) {
	pushed, dropped := t.queue.Pushed(), t.queue.Dropped()
	dPushed, dDropped := pushed-t.reportedPushed, dropped-t.reportedDropped
	t.reportedPushed, t.reportedDropped = pushed, dropped

	m.RecordQueueStats(ctx, t.dir.String(), int64(dPushed), int64(dDropped))
	if dDropped > 0 {
		slog.Warn("capture queue overflow",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"dropped", dDropped,
			"capacity", t.queue.Cap(),
			"error", ErrPacketDropped,
		)
	}
}
