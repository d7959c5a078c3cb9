// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fragment

import "errors"

var (
	// ErrFragmentTypeMismatch é retornado quando um frame de continuação em
	// uma cadeia FOLLOWS não é um PAYLOAD.
	ErrFragmentTypeMismatch = errors.New("fragment: continuation frame type mismatch")

	// ErrMissingFirstFragment é retornado quando uma continuação chega para
	// um stream id sem cadeia de fragmentos em andamento.
	ErrMissingFirstFragment = errors.New("fragment: continuation without a first fragment")
)
