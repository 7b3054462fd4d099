//go:build !darwin && !linux && !freebsd && !netbsd && !openbsd

package environment

import "fmt"

func uname() (string, error) {
	return "", fmt.Errorf("uname is not supported on this platform")
}
