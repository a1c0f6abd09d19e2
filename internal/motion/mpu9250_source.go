// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MPU9250 registers used for accelerometer capture.
const (
	regAccelConfig = 0x1C
	regAccelXoutH  = 0x3B
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	whoAmIMPU9250 = 0x71

	// Read flag for SPI register addresses.
	spiReadBit = 0x80
)

// accelCountsPerG is the LSB/g sensitivity at the ±2g full-scale setting.
const accelCountsPerG = 16384.0

// MPU9250Source reads the accelerometer of an MPU9250 wired to the
// capture rig over SPI. Register-level access, no vendor driver.
type MPU9250Source struct {
	port spi.PortCloser
	conn spi.Conn
}

// NewMPU9250Source opens the SPI device (e.g. "/dev/spidev0.0"), verifies
// the chip identity and configures the accelerometer for ±2g.
func NewMPU9250Source(spiDev string) (*MPU9250Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("open SPI %s: %w", spiDev, err)
	}

	conn, err := port.Connect(1*physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("SPI connect %s: %w", spiDev, err)
	}

	src := &MPU9250Source{port: port, conn: conn}

	id, err := src.readRegister(regWhoAmI)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("WHO_AM_I read: %w", err)
	}
	if id != whoAmIMPU9250 {
		port.Close()
		return nil, fmt.Errorf("unexpected WHO_AM_I 0x%02X on %s", id, spiDev)
	}

	// Wake from sleep, then select the ±2g range.
	if err := src.writeRegister(regPwrMgmt1, 0x00); err != nil {
		port.Close()
		return nil, fmt.Errorf("wake device: %w", err)
	}
	if err := src.writeRegister(regAccelConfig, 0x00); err != nil {
		port.Close()
		return nil, fmt.Errorf("set accel range: %w", err)
	}

	return src, nil
}

func (m *MPU9250Source) readRegister(addr byte) (byte, error) {
	w := []byte{addr | spiReadBit, 0x00}
	r := make([]byte, len(w))
	if err := m.conn.Tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (m *MPU9250Source) writeRegister(addr, value byte) error {
	return m.conn.Tx([]byte{addr &^ spiReadBit, value}, nil)
}

// Next burst-reads ACCEL_XOUT_H through ACCEL_ZOUT_L and converts the
// counts to g using the ±2g sensitivity.
func (m *MPU9250Source) Next() (Sample, error) {
	w := make([]byte, 7)
	w[0] = regAccelXoutH | spiReadBit
	r := make([]byte, len(w))
	if err := m.conn.Tx(w, r); err != nil {
		return Sample{}, fmt.Errorf("accel burst read: %w", err)
	}

	ax := int16(binary.BigEndian.Uint16(r[1:3]))
	ay := int16(binary.BigEndian.Uint16(r[3:5]))
	az := int16(binary.BigEndian.Uint16(r[5:7]))

	return Sample{
		Ax:   float64(ax) / accelCountsPerG,
		Ay:   float64(ay) / accelCountsPerG,
		Az:   float64(az) / accelCountsPerG,
		Time: time.Now(),
	}, nil
}

// Close releases the SPI port.
func (m *MPU9250Source) Close() error {
	return m.port.Close()
}
