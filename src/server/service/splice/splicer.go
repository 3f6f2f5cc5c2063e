// SPDX-License-Identifier: MIT
// Splicer copies bytes between two already-connected sockets until either
// direction finishes, then tears down both. It never inspects the bytes
// it moves.
package splice

import (
	"io"
	"net"

	"github.com/apimgr/onionbridge/src/server/service/logging"
)

// Run splices a (inbound) and b (outbound) bidirectionally. It blocks
// until either copy direction finishes — EOF, error, or peer reset — at
// which point both connections are closed and Run returns. Copy errors
// are logged, never returned: by the time either copy fails, the only
// meaningful action left is to tear down the pair.
func Run(a, b net.Conn, logger *logging.AppLogger) {
	done := make(chan struct{}, 2)

	go func() {
		copyAndLog(b, a, "inbound->outbound", logger)
		done <- struct{}{}
	}()
	go func() {
		copyAndLog(a, b, "outbound->inbound", logger)
		done <- struct{}{}
	}()

	<-done
	a.Close()
	b.Close()
}

func copyAndLog(dst, src net.Conn, direction string, logger *logging.AppLogger) {
	_, err := io.Copy(dst, src)
	if err != nil && logger != nil {
		logger.Debug("splice copy ended", map[string]interface{}{
			"direction": direction,
			"error":     err.Error(),
		})
	}
}
