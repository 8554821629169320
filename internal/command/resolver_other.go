//go:build !windows

package command

func isWindows() bool { return false }
