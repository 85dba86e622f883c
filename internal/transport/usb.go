// internal/transport/usb.go
package transport

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"fdm-service/internal/model"
)

// USBConfig configures a control module attached through a USB-serial
// adapter with a vendor-specific interface.
type USBConfig struct {
	VendorID  string        `json:"vendor_id"`
	ProductID string        `json:"product_id"`
	Interface int           `json:"interface"`
	Endpoint  int           `json:"endpoint"`
	Timeout   time.Duration `json:"timeout"`
}

// USBConnection implements Connection over USB bulk endpoints.
type USBConnection struct {
	config   *USBConfig
	ctx      *gousb.Context
	device   *gousb.Device
	usbConf  *gousb.Config
	intf     *gousb.Interface
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
}

// NewUSBConnection creates a USB connection to the control module.
func NewUSBConnection(config *USBConfig, logger *zap.Logger) Connection {
	return &USBConnection{
		config: config,
		logger: logger.With(
			zap.String("channel", "usb"),
			zap.String("vendor_id", config.VendorID),
			zap.String("product_id", config.ProductID),
		),
	}
}

// Open opens the USB connection.
func (uc *USBConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	uc.logger.Info("Opening USB connection",
		zap.String("vendor_id", uc.config.VendorID),
		zap.String("product_id", uc.config.ProductID),
		zap.Int("interface", uc.config.Interface),
	)

	vendorID, err := parseHexID(uc.config.VendorID)
	if err != nil {
		return fmt.Errorf("invalid vendor ID: %w", err)
	}

	productID, err := parseHexID(uc.config.ProductID)
	if err != nil {
		return fmt.Errorf("invalid product ID: %w", err)
	}

	uc.ctx = gousb.NewContext()

	device, err := uc.findAndOpenDevice(vendorID, productID)
	if err != nil {
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to find USB device: %w", err)
	}

	if err := device.SetAutoDetach(true); err != nil {
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to detach kernel driver: %w", err)
	}

	confNum, err := device.ActiveConfigNum()
	if err != nil {
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to read active configuration: %w", err)
	}

	conf, err := device.Config(confNum)
	if err != nil {
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to claim configuration %d: %w", confNum, err)
	}

	// The module's bulk endpoints live on the configured interface, not
	// necessarily interface 0.
	intf, err := conf.Interface(uc.config.Interface, 0)
	if err != nil {
		conf.Close()
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to claim interface %d: %w", uc.config.Interface, err)
	}

	outEndpt, err := intf.OutEndpoint(uc.config.Endpoint)
	if err != nil {
		intf.Close()
		conf.Close()
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to get out endpoint: %w", err)
	}

	inEndpt, err := intf.InEndpoint(uc.config.Endpoint)
	if err != nil {
		intf.Close()
		conf.Close()
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to get in endpoint: %w", err)
	}

	uc.device = device
	uc.usbConf = conf
	uc.intf = intf
	uc.outEndpt = outEndpt
	uc.inEndpt = inEndpt
	uc.isOpen = true

	uc.logger.Info("USB connection opened successfully")
	return nil
}

// Close closes the USB connection.
func (uc *USBConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	if uc.intf != nil {
		uc.intf.Close()
		uc.intf = nil
	}
	if uc.usbConf != nil {
		uc.usbConf.Close()
		uc.usbConf = nil
	}
	if uc.device != nil {
		uc.device.Close()
		uc.device = nil
	}
	if uc.ctx != nil {
		uc.ctx.Close()
		uc.ctx = nil
	}

	uc.outEndpt = nil
	uc.inEndpt = nil
	uc.isOpen = false

	uc.logger.Info("USB connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open.
func (uc *USBConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen && uc.device != nil && uc.outEndpt != nil
}

// Write writes data to the out endpoint.
func (uc *USBConnection) Write(ctx context.Context, data []byte) error {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.outEndpt == nil {
		return fmt.Errorf("USB connection not open")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := uc.outEndpt.Write(data)
	if err != nil {
		uc.logger.Error("USB write failed", zap.Error(err))
		return fmt.Errorf("failed to write to USB device: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	return nil
}

// Read reads up to maxBytes from the in endpoint. A bulk-transfer timeout
// yields an empty slice with no error.
func (uc *USBConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.inEndpt == nil {
		return nil, fmt.Errorf("USB connection not open")
	}

	readCtx := ctx
	if uc.config.Timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, uc.config.Timeout)
		defer cancel()
	}

	buffer := make([]byte, maxBytes)
	n, err := uc.inEndpt.ReadContext(readCtx, buffer)
	if err != nil {
		if readCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from USB device: %w", err)
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	return data, nil
}

// Type returns the channel type.
func (uc *USBConnection) Type() model.ConnectionType {
	return model.ConnectionTypeUSB
}

// parseHexID parses a hex ID string (0x1234 or 1234).
func parseHexID(hexStr string) (gousb.ID, error) {
	if len(hexStr) > 2 && hexStr[:2] == "0x" {
		hexStr = hexStr[2:]
	}

	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}

// findAndOpenDevice finds and opens the USB device by vendor/product ID.
func (uc *USBConnection) findAndOpenDevice(vendorID, productID gousb.ID) (*gousb.Device, error) {
	devices, err := uc.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("USB device not found (VID: %04X, PID: %04X)", uint16(vendorID), uint16(productID))
	}

	if len(devices) > 1 {
		for i := 1; i < len(devices); i++ {
			devices[i].Close()
		}
		uc.logger.Warn("Multiple matching USB devices found, using first one")
	}

	return devices[0], nil
}
