//go:build linux

package main

import (
	_ "github.com/samsamfire/gosdo/pkg/can/socketcan"
	_ "github.com/samsamfire/gosdo/pkg/can/socketcanv2"
)
