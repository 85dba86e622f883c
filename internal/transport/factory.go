// internal/transport/factory.go
package transport

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"fdm-service/internal/model"
)

// Config selects and configures one channel to the control module.
type Config struct {
	Type   model.ConnectionType `json:"type"`
	Serial SerialConfig         `json:"serial"`
	TCP    TCPConfig            `json:"tcp"`
	USB    USBConfig            `json:"usb"`
}

// NewConnection creates the configured channel.
func NewConnection(cfg Config, logger *zap.Logger) (Connection, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case model.ConnectionTypeSerial:
		sc := cfg.Serial
		applySerialDefaults(&sc)
		logger.Info("Creating serial channel",
			zap.String("port", sc.Port),
			zap.Int("baud_rate", sc.BaudRate),
		)
		return NewSerialConnection(&sc, logger), nil

	case model.ConnectionTypeTCP:
		tc := cfg.TCP
		applyTCPDefaults(&tc)
		logger.Info("Creating TCP channel",
			zap.String("host", tc.Host),
			zap.Int("port", tc.Port),
		)
		return NewTCPConnection(&tc, logger), nil

	case model.ConnectionTypeUSB:
		uc := cfg.USB
		applyUSBDefaults(&uc)
		logger.Info("Creating USB channel",
			zap.String("vendor_id", uc.VendorID),
			zap.String("product_id", uc.ProductID),
		)
		return NewUSBConnection(&uc, logger), nil

	default:
		return nil, fmt.Errorf("unsupported connection type: %s", cfg.Type)
	}
}

// ValidateConfig checks the channel configuration before any hardware is
// touched, so a bad deployment fails at startup rather than mid-shift.
func ValidateConfig(cfg Config) error {
	switch cfg.Type {
	case model.ConnectionTypeSerial:
		if cfg.Serial.Port == "" {
			return fmt.Errorf("serial port is required")
		}
		if cfg.Serial.BaudRate != 0 && !validBaudRate(cfg.Serial.BaudRate) {
			return fmt.Errorf("invalid baud rate: %d", cfg.Serial.BaudRate)
		}
		return nil

	case model.ConnectionTypeTCP:
		if cfg.TCP.Host == "" {
			return fmt.Errorf("TCP host is required")
		}
		if cfg.TCP.Port < 1 || cfg.TCP.Port > 65535 {
			return fmt.Errorf("invalid port number: %d", cfg.TCP.Port)
		}
		return nil

	case model.ConnectionTypeUSB:
		if cfg.USB.VendorID == "" {
			return fmt.Errorf("USB vendor_id is required")
		}
		if cfg.USB.ProductID == "" {
			return fmt.Errorf("USB product_id is required")
		}
		return nil

	default:
		return fmt.Errorf("unsupported connection type: %s", cfg.Type)
	}
}

func applySerialDefaults(sc *SerialConfig) {
	if sc.BaudRate == 0 {
		sc.BaudRate = 9600
	}
	if sc.DataBits == 0 {
		sc.DataBits = 8
	}
	if sc.StopBits == 0 {
		sc.StopBits = 1
	}
	if sc.Parity == "" {
		sc.Parity = "none"
	}
	if sc.Timeout == 0 {
		sc.Timeout = 2 * time.Second
	}
}

func applyTCPDefaults(tc *TCPConfig) {
	if tc.Timeout == 0 {
		tc.Timeout = 10 * time.Second
	}
	if tc.ReadTimeout == 0 {
		tc.ReadTimeout = 2 * time.Second
	}
	if tc.WriteTimeout == 0 {
		tc.WriteTimeout = 10 * time.Second
	}
}

func applyUSBDefaults(uc *USBConfig) {
	if uc.Endpoint == 0 {
		uc.Endpoint = 1
	}
	if uc.Timeout == 0 {
		uc.Timeout = 2 * time.Second
	}
}

func validBaudRate(rate int) bool {
	switch rate {
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		return true
	}
	return false
}
