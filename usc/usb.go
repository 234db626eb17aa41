// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usc

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"
)

// ErrNotFound is returned by Open when no matching controller is
// attached.
var ErrNotFound = errors.New("no Maestro servo controller found")

// A Transport performs USB control transfers against one device.
type Transport interface {
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)
	Close() error
}

// usbTransport is a Transport backed by libusb.
type usbTransport struct {
	ctx *gousb.Context
	dev *gousb.Device
}

func (t *usbTransport) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	return t.dev.Control(requestType, request, value, index, data)
}

func (t *usbTransport) Close() error {
	var result *multierror.Error
	if err := t.dev.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing device: %w", err))
	}
	if err := t.ctx.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing usb context: %w", err))
	}
	return result.ErrorOrNil()
}

func isMaestro(desc *gousb.DeviceDesc) bool {
	if desc.Vendor != gousb.ID(VendorID) {
		return false
	}
	_, ok := VariantForProduct(uint16(desc.Product))
	return ok
}

// Open finds the first attached Maestro controller and opens a session
// with it. When serial is not empty, only the controller with that
// serial number is considered.
func Open(serial string, opts ...Option) (*Device, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(isMaestro)
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("enumerating usb devices: %w", err)
	}

	var found *gousb.Device
	for _, d := range devs {
		if found == nil {
			s, err := d.SerialNumber()
			if err == nil && (serial == "" || s == serial) {
				found = d
				continue
			}
		}
		d.Close()
	}

	if found == nil {
		ctx.Close()
		if serial != "" {
			return nil, fmt.Errorf("%w with serial number %s", ErrNotFound, serial)
		}
		return nil, ErrNotFound
	}

	t := &usbTransport{ctx: ctx, dev: found}
	d, err := New(t, uint16(found.Desc.Product), opts...)
	if err != nil {
		t.Close()
		return nil, err
	}
	if s, err := found.SerialNumber(); err == nil {
		d.serial = s
	}
	return d, nil
}
