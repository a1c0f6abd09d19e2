package motion

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// PACC is the proprietary accelerometer sentence emitted by the bench
// rig over its serial link:
//
//	$PACC,<ax>,<ay>,<az>*hh
//
// with all three accelerations in g.
type PACC struct {
	nmea.BaseSentence
	Ax float64
	Ay float64
	Az float64
}

var paccOnce sync.Once

func registerPACC() {
	paccOnce.Do(func() {
		nmea.MustRegisterParser("PACC", func(s nmea.BaseSentence) (nmea.Sentence, error) {
			p := nmea.NewParser(s)
			return PACC{
				BaseSentence: s,
				Ax:           p.Float64(0, "ax"),
				Ay:           p.Float64(1, "ay"),
				Az:           p.Float64(2, "az"),
			}, p.Err()
		})
	})
}

// SerialSource reads accelerometer sentences from a serial-attached bench
// rig. Useful for feeding real hand motion into the pipeline during
// development without the phone hardware.
type SerialSource struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// NewSerialSource opens the rig's serial port.
// NOTE: adjust the port name to match your setup: /dev/serial0,
// /dev/ttyAMA0, /dev/ttyUSB0, etc.
func NewSerialSource(portName string, baudRate uint) (*SerialSource, error) {
	registerPACC()

	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}

	return &SerialSource{
		port:   port,
		reader: bufio.NewReader(port),
	}, nil
}

// Next blocks until the next well-formed $PACC sentence arrives. Partial
// lines and foreign sentence types are skipped, as a noisy rig will
// produce both.
func (s *SerialSource) Next() (Sample, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return Sample{}, fmt.Errorf("serial read: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		acc, ok := sentence.(PACC)
		if !ok {
			continue
		}

		return Sample{
			Ax:   acc.Ax,
			Ay:   acc.Ay,
			Az:   acc.Az,
			Time: time.Now(),
		}, nil
	}
}

// Close releases the serial port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
