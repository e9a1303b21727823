package hub

import (
	"testing"
)

func TestNotify_DeliversInRegistrationOrder(t *testing.T) {
	h := New()
	var order []int
	h.Subscribe(func(string, any) { order = append(order, 1) })
	h.Subscribe(func(string, any) { order = append(order, 2) })
	h.Subscribe(func(string, any) { order = append(order, 3) })

	h.Notify("test", nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestNotify_PanickingSubscriberIsolated(t *testing.T) {
	h := New()
	var delivered []string
	h.Subscribe(func(updateType string, _ any) { delivered = append(delivered, "first:"+updateType) })
	h.Subscribe(func(string, any) { panic("subscriber bug") })
	h.Subscribe(func(updateType string, _ any) { delivered = append(delivered, "third:"+updateType) })

	h.Notify("a", nil)
	h.Notify("b", nil)

	want := []string{"first:a", "third:a", "first:b", "third:b"}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered = %v, want %v", delivered, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	h := New()
	var count int
	sub := h.Subscribe(func(string, any) { count++ })

	h.Notify("a", nil)
	h.Unsubscribe(sub)
	h.Notify("b", nil)

	if count != 1 {
		t.Errorf("callback fired %d times, want 1", count)
	}

	// Unknown and nil tokens are no-ops.
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)
}

func TestNotify_PayloadPassedThrough(t *testing.T) {
	h := New()
	var gotType string
	var gotPayload any
	h.Subscribe(func(updateType string, payload any) {
		gotType = updateType
		gotPayload = payload
	})

	h.Notify("order_book_update", 42)

	if gotType != "order_book_update" || gotPayload != 42 {
		t.Errorf("received (%s,%v)", gotType, gotPayload)
	}
}
