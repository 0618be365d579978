package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/scheduler"
)

const (
	// maxHandshakeBytes bounds the priority line
	maxHandshakeBytes = 64

	// defaultMaxPayload is the size of one query receive
	defaultMaxPayload = 16 * 1024

	// maintenancePriority selects the maintenance exchange
	maintenancePriority = 0
)

// Maintainer runs a maintenance cycle with client-reported latencies.
type Maintainer interface {
	Maintain(ctx context.Context, latencies []float64) error
}

// MaintainerFunc adapts a function to Maintainer.
type MaintainerFunc func(ctx context.Context, latencies []float64) error

// Maintain calls f.
func (f MaintainerFunc) Maintain(ctx context.Context, latencies []float64) error {
	return f(ctx, latencies)
}

// handler drives one connection through handshake, then streaming or
// maintenance, then close.
type handler struct {
	queue      *scheduler.TaskQueue
	maintainer Maintainer
	shutdown   *ShutdownManager
	maxPayload int

	logger  *zap.Logger
	metrics *observability.Metrics
}

// serve runs the state machine until the connection closes.
func (h *handler) serve(ctx context.Context, cc *clientConn) {
	log := h.logger.With(zap.String("client", cc.ID()), zap.String("remote", cc.RemoteAddr().String()))
	br := bufio.NewReaderSize(cc, h.maxPayload)

	priority, err := readHandshake(br)
	if err != nil {
		log.Debug("handshake failed", zap.Error(err))
		return
	}

	if priority == maintenancePriority {
		log.Info("maintenance requested")
		h.maintain(ctx, log, br)
		return
	}

	log.Info("client connected", zap.Int("priority", priority))
	h.stream(log, cc, br, priority)
}

// readHandshake reads the priority line. Anything that is not an integer
// means priority 1; integers other than 0 are clamped into 1-9.
func readHandshake(br *bufio.Reader) (int, error) {
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				break
			}
			return 0, qerrors.NewProtocolError(qerrors.CodeBadHandshake, "connection closed before handshake", err)
		}
		if b == '\n' {
			break
		}
		if len(line) == maxHandshakeBytes {
			return 0, qerrors.NewProtocolError(qerrors.CodeBadHandshake, "handshake line too long", nil)
		}
		line = append(line, b)
	}
	return ParsePriority(string(line)), nil
}

// ParsePriority maps a handshake line to a priority.
func ParsePriority(line string) int {
	p, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return scheduler.MinPriority
	}
	if p == maintenancePriority {
		return maintenancePriority
	}
	return scheduler.ClampPriority(p)
}

// stream enqueues one task per received payload until the peer goes away.
// Tasks already queued are left to run; their replies fail silently.
func (h *handler) stream(log *zap.Logger, cc *clientConn, br *bufio.Reader, priority int) {
	buf := make([]byte, h.maxPayload)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			if query := strings.TrimSpace(string(buf[:n])); query != "" {
				h.queue.Enqueue(scheduler.Task{
					Conn:     cc,
					ClientID: cc.ID(),
					Priority: priority,
					Query:    query,
				})
				log.Debug("task queued", zap.Int("bytes", n))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info("client disconnected")
			} else {
				log.Warn("client transport error",
					zap.Error(qerrors.NewProtocolError(qerrors.CodeTransport, "read failed", err)))
			}
			return
		}
	}
}

// maintain decodes the latency array and runs a maintenance cycle. Nothing
// is written back to the client.
func (h *handler) maintain(ctx context.Context, log *zap.Logger, br *bufio.Reader) {
	var latencies []float64
	if err := json.NewDecoder(br).Decode(&latencies); err != nil {
		h.metrics.MaintenanceRun("failed")
		log.Warn("invalid maintenance payload",
			zap.Error(qerrors.NewProtocolError(qerrors.CodeBadMaintenance, "expected a JSON array of latencies", err)))
		return
	}

	if h.maintainer == nil {
		log.Warn("maintenance not configured")
		return
	}
	if h.shutdown != nil {
		if !h.shutdown.TrackWork() {
			log.Warn("maintenance rejected during shutdown")
			return
		}
		defer h.shutdown.UntrackWork()
	}

	if err := h.maintainer.Maintain(ctx, latencies); err != nil {
		log.Error("maintenance failed", zap.Error(err))
	}
}
