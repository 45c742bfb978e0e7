//go:build !nogpu

package erathia

import (
	"fmt"

	"github.com/gogpu/gpucontext"

	"github.com/zarigata/Erathia/backend/wgpu"
)

// RegisterDeviceProvider registers a GPU backend running on a device
// owned by the host application, such as a gogpu window. The provider
// must expose HalDevice() and HalQueue().
func RegisterDeviceProvider(provider gpucontext.DeviceProvider) error {
	b, err := wgpu.NewWithProvider(provider)
	if err != nil {
		return fmt.Errorf("erathia: %w", err)
	}
	return RegisterBackend(b)
}
