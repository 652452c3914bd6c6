//go:build !unix

package core

import "os/exec"

func setProcessGroup(c *exec.Cmd) {}
