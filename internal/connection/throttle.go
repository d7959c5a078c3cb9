// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"context"

	"golang.org/x/time/rate"
)

// maxThrottleBurst limita o tamanho de uma única reserva para que um frame
// grande demais não exija uma franquia de burst enorme; sends maiores são
// divididos em chunks.
const maxThrottleBurst = 256 * 1024

// throttledTransport embrulha um Transport com um limite de taxa de bytes
// token-bucket no caminho de envio.
type throttledTransport struct {
	Transport
	limiter *rate.Limiter
}

// NewThrottledTransport embrulha t para que os bytes de frame outbound sejam
// paceados a no máximo bytesPerSec bytes/segundo. Um bytesPerSec não
// positivo retorna t inalterado.
func NewThrottledTransport(t Transport, bytesPerSec int64) Transport {
	if bytesPerSec <= 0 {
		return t
	}
	burst := int(bytesPerSec)
	if burst > maxThrottleBurst {
		burst = maxThrottleBurst
	}
	return &throttledTransport{Transport: t, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

func (t *throttledTransport) Send(ctx context.Context, frameBytes []byte) error {
	for len(frameBytes) > 0 {
		chunk := len(frameBytes)
		if chunk > t.limiter.Burst() {
			chunk = t.limiter.Burst()
		}
		if err := t.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		if err := t.Transport.Send(ctx, frameBytes[:chunk]); err != nil {
			return err
		}
		frameBytes = frameBytes[chunk:]
	}
	return nil
}
