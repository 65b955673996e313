//go:build windows

package main

import (
	"os"

	"github.com/abrezinsky/eventxp/internal/logger"
)

// listenForKeyboard reads stdin byte by byte; the console stays line buffered on Windows
func listenForKeyboard(baseURL string, appLog logger.Logger, quit func()) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if handleKey(buf[0], baseURL, appLog) {
			quit()
			return
		}
	}
}
