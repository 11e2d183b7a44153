package pool

import (
	"crypto/tls"
	"strconv"
)

func tlsConfigWithOverride(serverName string) tls.Config {
	return tls.Config{ServerName: serverName}
}

func portString(p uint16) string {
	return strconv.FormatUint(uint64(p), 10)
}
