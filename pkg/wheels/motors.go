package wheels

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goburrow/modbus"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// BusMotors publishes wheel duties for an external motor daemon.
type BusMotors struct {
	bus   transport.Publisher
	codec protocol.Codec
	topic string
	seq   atomic.Uint64
}

var _ Motors = (*BusMotors)(nil)

// NewBusMotors creates motors that publish to topic.
func NewBusMotors(bus transport.Publisher, codec protocol.Codec, topic string) *BusMotors {
	return &BusMotors{bus: bus, codec: codec, topic: topic}
}

// SetWheelsSpeed publishes one WheelsCommand.
func (m *BusMotors) SetWheelsSpeed(left, right float64) error {
	cmd := protocol.WheelsCommand{
		Header:   protocol.NewHeader(m.seq.Add(1), "wheels"),
		VelLeft:  left,
		VelRight: right,
	}
	return transport.PublishMessage(m.bus, m.codec, m.topic, cmd)
}

// Close is a no-op; the bus is owned by the caller.
func (m *BusMotors) Close() error {
	return nil
}

// registerWriter is the subset of modbus.Client used here.
type registerWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error)
}

type closer interface {
	Close() error
}

// ModbusMotors writes signed per-mille duties to two consecutive holding
// registers (left, right) of a Modbus TCP or RTU motor controller.
type ModbusMotors struct {
	client   registerWriter
	handler  closer
	register uint16

	mu     sync.Mutex
	closed bool
}

var _ Motors = (*ModbusMotors)(nil)

// DialModbus connects to the controller at cfg.Address.
func DialModbus(cfg ModbusConfig) (*ModbusMotors, error) {
	if strings.HasPrefix(cfg.Address, "tcp://") {
		h := modbus.NewTCPClientHandler(strings.TrimPrefix(cfg.Address, "tcp://"))
		h.Timeout = cfg.Timeout
		h.SlaveId = cfg.SlaveID
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("wheels: modbus connect %s: %w", cfg.Address, err)
		}
		return newModbusMotors(modbus.NewClient(h), h, cfg.Register), nil
	}

	h := modbus.NewRTUClientHandler(cfg.Address)
	h.BaudRate = cfg.BaudRate
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = cfg.SlaveID
	h.Timeout = cfg.Timeout
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("wheels: modbus open %s: %w", cfg.Address, err)
	}
	return newModbusMotors(modbus.NewClient(h), h, cfg.Register), nil
}

func newModbusMotors(client registerWriter, handler closer, register uint16) *ModbusMotors {
	return &ModbusMotors{client: client, handler: handler, register: register}
}

// SetWheelsSpeed writes both duties in one request.
func (m *ModbusMotors) SetWheelsSpeed(left, right float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.ErrClosed
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:], uint16(perMille(left)))
	binary.BigEndian.PutUint16(buf[2:], uint16(perMille(right)))

	if _, err := m.client.WriteMultipleRegisters(m.register, 2, buf); err != nil {
		return fmt.Errorf("wheels: modbus write: %w", err)
	}
	return nil
}

// Close releases the connection. Safe to call more than once.
func (m *ModbusMotors) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.handler == nil {
		return nil
	}
	return m.handler.Close()
}

func perMille(duty float64) int16 {
	return int16(math.Round(clamp(duty, 1) * 1000))
}
