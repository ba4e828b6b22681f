//go:build unix && !linux

package server

func setPktinfo(fd int) error { return nil }
