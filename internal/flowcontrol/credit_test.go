// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flowcontrol

import "testing"

func TestCredit_AddAndTake(t *testing.T) {
	var c Credit
	if err := c.Add(3); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !c.TryTake() {
			t.Fatalf("TryTake %d: expected success", i)
		}
	}
	if c.TryTake() {
		t.Fatal("expected TryTake to fail once credit is exhausted")
	}
}

func TestCredit_InvalidRequestN(t *testing.T) {
	var c Credit
	tests := []int64{0, -1, -100}
	for _, n := range tests {
		if err := c.Add(n); err != ErrInvalidRequestN {
			t.Fatalf("Add(%d): expected ErrInvalidRequestN, got %v", n, err)
		}
	}
}

func TestCredit_SaturatesAtMax(t *testing.T) {
	var c Credit
	if err := c.Add(MaxCredit); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(MaxCredit); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := c.Value(); got != MaxCredit {
		t.Fatalf("expected saturation at %d, got %d", MaxCredit, got)
	}
}
