//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func newPlatformDevice(_ ...ble.Option) (ble.Device, error) {
	return nil, fmt.Errorf("ble is not supported on %s", runtime.GOOS)
}
