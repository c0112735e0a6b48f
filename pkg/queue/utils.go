package queue

import (
	"fmt"
	"strings"
)

// qualifiedTypeName is the stable identifier stored as job_type, e.g. "mail.SendEmail"
func qualifiedTypeName(v any) string {
	s := fmt.Sprintf("%T", v)
	s = strings.TrimLeft(s, "*")

	return s
}

func shortTypeName(v any) string {
	s := qualifiedTypeName(v)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}
