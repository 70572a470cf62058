package edoc

import (
	"encoding/hex"

	"go.uber.org/zap"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func inc(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0xFF {
			data[i]++
			for j := i + 1; j < n; j++ {
				data[j] = 0
			}
			return true
		}
	}
	return false
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexField(key string, b []byte) zap.Field {
	return zap.String(key, hexstr(b))
}
