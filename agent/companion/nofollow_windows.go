//go:build windows

package companion

const noFollow = 0
