package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// PortOpener opens the device behind a serial scale.
type PortOpener func(device string, mode *serial.Mode) (io.ReadCloser, error)

func openSerialPort(device string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(device, mode)
}

// SerialSource reads a weight indicator attached to a serial port. While the
// port is down it reports the scale disconnected and reopens it with
// exponential backoff.
type SerialSource struct {
	scaleID int
	device  string
	mode    *serial.Mode
	open    PortOpener
	logger  *zap.Logger
	now     func() time.Time

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSerialSource configures an 8N1 port at the given baud rate.
func NewSerialSource(scaleID int, device string, baudRate int, logger *zap.Logger) *SerialSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baudRate <= 0 {
		baudRate = 9600
	}
	return &SerialSource{
		scaleID: scaleID,
		device:  device,
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open:           openSerialPort,
		logger:         logger.With(zap.Int("scale_id", scaleID), zap.String("device", device)),
		now:            time.Now,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     10 * time.Second,
	}
}

// WithOpener replaces the port opener.
func (s *SerialSource) WithOpener(open PortOpener) *SerialSource {
	s.open = open
	return s
}

// ScaleID implements Source.
func (s *SerialSource) ScaleID() int {
	return s.scaleID
}

// Readings implements Source.
func (s *SerialSource) Readings(ctx context.Context) (<-chan models.ScaleReading, error) {
	ch := make(chan models.ScaleReading, defaultBuffer)
	go s.run(ctx, ch)
	return ch, nil
}

func (s *SerialSource) run(ctx context.Context, ch chan<- models.ScaleReading) {
	defer close(ch)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialBackoff
	policy.MaxInterval = s.maxBackoff

	for ctx.Err() == nil {
		port, err := s.open(s.device, s.mode)
		if err != nil {
			wait := policy.NextBackOff()
			s.logger.Warn("serial port unavailable", zap.Duration("retry_in", wait), zap.Error(err))
			if !emit(ctx, ch, models.Disconnected(s.scaleID, s.now())) || !sleep(ctx, wait) {
				return
			}
			continue
		}

		policy.Reset()
		s.logger.Info("serial port connected")
		err = s.readLines(ctx, port, ch)
		_ = port.Close()
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("serial port lost", zap.Error(err))
		if !emit(ctx, ch, models.Disconnected(s.scaleID, s.now())) || !sleep(ctx, policy.NextBackOff()) {
			return
		}
	}
}

func (s *SerialSource) readLines(ctx context.Context, port io.ReadCloser, ch chan<- models.ScaleReading) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = port.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		weight, err := ParseWeight(scanner.Text())
		if err != nil {
			s.logger.Debug("indicator line skipped", zap.String("line", scanner.Text()))
			continue
		}
		r := models.ScaleReading{ScaleID: s.scaleID, WeightKg: weight, Timestamp: s.now(), Connected: true}
		if !emit(ctx, ch, r) {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("serial stream ended")
}
