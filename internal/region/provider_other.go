//go:build !linux

package region

import "fmt"

func newPlatformShmProvider() (Provider, error) {
	return nil, fmt.Errorf("shm region provider requires linux")
}
