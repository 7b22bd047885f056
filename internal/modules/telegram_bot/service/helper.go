package service

import (
	"fmt"
	"strconv"
	"strings"
)

func onOff(v bool) string {
	if v {
		return "ок"
	}
	return "сбой"
}

func f2(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// intArg — число из аргумента команды или def.
func intArg(s string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
